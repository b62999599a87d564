// Package proc provides the operating-system process termination primitive.
package proc

import (
	"fmt"
	"os"
)

// Controller implements ports.ProcessController using os signals.
type Controller struct{}

// NewController returns a process controller.
func NewController() *Controller {
	return &Controller{}
}

// Terminate force-kills the process with the given id. This is SIGKILL, not
// a graceful shutdown: the watchdog only calls it when the trading process
// is presumed frozen or dangerous.
func (c *Controller) Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := p.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}
