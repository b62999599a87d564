package statefile

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Heartbeat implements ports.HeartbeatWriter and ports.HeartbeatReader over
// a single-line file holding an RFC 3339 timestamp, overwritten on each
// beat. Absence or unparsable content surfaces as an error; the watchdog
// maps that to "stale" only after its debounce window.
type Heartbeat struct {
	path string
}

// NewHeartbeat creates the heartbeat file handle and ensures its directory
// exists.
func NewHeartbeat(path string) (*Heartbeat, error) {
	if path == "" {
		return nil, fmt.Errorf("heartbeat path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return &Heartbeat{path: path}, nil
}

// Beat overwrites the heartbeat with the current UTC time.
func (h *Heartbeat) Beat(ctx context.Context) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if err := writeAtomic(h.path, []byte(ts+"\n"), 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// Last returns the timestamp of the most recent beat.
func (h *Heartbeat) Last(ctx context.Context) (time.Time, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return time.Time{}, fmt.Errorf("read heartbeat: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat %q: %w", strings.TrimSpace(string(data)), err)
	}
	return ts, nil
}
