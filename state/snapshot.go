package state

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// SnapshotEnvelope is the on-disk record for a periodically persisted RIB
// snapshot (spec.md §6's RibSnapshotFile; routes are themselves RIB objects
// once stored under /routing/static|dynamic, so the same envelope also
// covers what spec.md §6 calls RouteSnapshotRecord — there is no separate
// route-only payload to persist). Only the envelope is YAML; Payload is the
// opaque CBOR blob produced by rib.Rib.SerializeSnapshot, the same bytes
// that cross the wire during enrolment sync, per spec.md §1's "on-disk file
// syntax... out of scope" boundary.
type SnapshotEnvelope struct {
	SavedAt time.Time `yaml:"saved_at"`
	Version uint64    `yaml:"version"`
	Payload []byte    `yaml:"payload"`
}

// SaveSnapshot writes env to path, matching the teacher's plain
// structured-YAML choice for on-disk records (core/entrypoint.go's
// config read/write round trip).
func SaveSnapshot(path string, env SnapshotEnvelope) error {
	b, err := yaml.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}

// LoadSnapshot reads a SnapshotEnvelope previously written by SaveSnapshot.
// A missing file is reported via the returned error so callers can treat a
// first run (no prior snapshot) as a non-fatal cold start.
func LoadSnapshot(path string) (SnapshotEnvelope, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SnapshotEnvelope{}, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	var env SnapshotEnvelope
	if err := yaml.Unmarshal(b, &env); err != nil {
		return SnapshotEnvelope{}, fmt.Errorf("unmarshal snapshot %s: %w", path, err)
	}
	return env, nil
}
