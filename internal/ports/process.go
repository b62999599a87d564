package ports

// ProcessController is the operating-system termination primitive the
// watchdog uses to kill a frozen trading process.
type ProcessController interface {
	Terminate(pid int) error
}

// PIDReader resolves the trading process's id, typically from a pidfile
// written at startup.
type PIDReader interface {
	ReadPID() (int, error)
}
