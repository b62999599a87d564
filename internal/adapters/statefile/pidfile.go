package statefile

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PIDFile records the trading process's id so the watchdog can terminate it
// from outside. Implements ports.PIDReader.
type PIDFile struct {
	path string
}

// NewPIDFile creates the pidfile handle and ensures its directory exists.
func NewPIDFile(path string) (*PIDFile, error) {
	if path == "" {
		return nil, fmt.Errorf("pidfile path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return &PIDFile{path: path}, nil
}

// Write records the given process id.
func (p *PIDFile) Write(pid int) error {
	return writeAtomic(p.path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// ReadPID returns the recorded process id.
func (p *PIDFile) ReadPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("read pidfile: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pidfile %q: %w", strings.TrimSpace(string(data)), err)
	}
	return pid, nil
}

// Remove deletes the pidfile; missing files are not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
