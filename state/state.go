package state

import (
	"io"
	"log/slog"
	"os"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Module is the lifecycle contract carried over from the teacher's
// NyModule; ipcp.Ipcp is its one implementation in the core: a component is
// constructed with its dependencies already wired in, Start puts it to
// work (spawning its goroutine, if it has one), and Stop releases whatever
// it owns in dependency order.
type Module interface {
	Start() error
	Stop() error
}

// NewLogger builds the per-IPCP structured logger. Every component receives
// a `.With("component", name)` child of this logger, the same way the
// teacher threads a single *slog.Logger through every module via Env.Log.
func NewLogger(ipcpName string, level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:        level,
		TimeFormat:   "15:04:05.000",
		CustomPrefix: ipcpName,
	}))
}

// NewFileLogger mirrors NewLogger but additionally fans every record out to
// a plain text handler writing to logFile, the same way the teacher's
// entrypoint.go composes a tint console handler with a file handler via
// slogmulti.Fanout rather than picking one sink over the other.
func NewFileLogger(ipcpName string, level slog.Level, console io.Writer, logFile io.Writer) *slog.Logger {
	if console == nil {
		console = os.Stderr
	}
	return slog.New(slogmulti.Fanout(
		tint.NewHandler(console, &tint.Options{
			Level:        level,
			TimeFormat:   "15:04:05.000",
			CustomPrefix: ipcpName,
		}),
		slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: level}),
	))
}
