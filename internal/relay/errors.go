package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrInterrupted is returned by a read that was cut short by the
	// coordinator.  It never escapes Run.
	ErrInterrupted = errors.New("relay: read interrupted")

	// ErrBusy is returned by Run while another session is active on the
	// same engine.
	ErrBusy = errors.New("relay: a session is already running")
)

// PumpError is a real I/O failure in one direction of the relay.
type PumpError struct {
	Dir Direction
	Op  string // "read" or "write"
	Err error
}

func (e *PumpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Dir, e.Op, e.Err)
}

func (e *PumpError) Unwrap() error { return e.Err }
