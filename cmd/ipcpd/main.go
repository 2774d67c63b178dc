// Command ipcpd runs a single IPC Process from a YAML config file.
//
// CLI argument parsing is explicitly out of scope for the core this
// program wires up, so flag parsing here is intentionally minimal: one
// required path to a config file, one optional verbosity switch, and one
// optional log file path.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arinet/corina/ipcp"
	"github.com/arinet/corina/state"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the ipcp's YAML config file")
	verbose := flag.Bool("verbose", false, "enable debug-level logging")
	logFilePath := flag.String("log-file", "", "also write logs to this file, in addition to stderr")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "ipcpd: -config is required")
		return 2
	}

	cfg, err := state.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipcpd: %v\n", err)
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	var log *slog.Logger
	if *logFilePath != "" {
		f, err := os.OpenFile(*logFilePath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ipcpd: open log file: %v\n", err)
			return 2
		}
		defer f.Close()
		log = state.NewFileLogger(cfg.IpcpName, level, os.Stderr, f)
	} else {
		log = state.NewLogger(cfg.IpcpName, level, os.Stderr)
	}

	node, err := ipcp.New(cfg, log)
	if err != nil {
		log.Error("failed to construct ipcp", "err", err)
		return 3
	}
	if err := node.Start(); err != nil {
		log.Error("failed to start ipcp", "err", err)
		return 3
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutdown signal received")
	if err := node.Stop(); err != nil {
		log.Error("error during shutdown", "err", err)
		return 1
	}
	return 0
}
