package stream

import (
	"errors"
	"fmt"
)

// State is the lifecycle position of a Processor.
type State int32

const (
	Idle State = iota
	Running
	Stopped
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Faulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrNotIdle is returned by Run on a processor that has already run.
	ErrNotIdle = errors.New("processor is not idle")
	// ErrShutdownTimeout means in-flight work did not finish within the shutdown timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// FaultedError is the terminal error of a processor whose subscription or
// changelog failed. The processor cannot be restarted; build a new one.
type FaultedError struct {
	Err error
}

func (e *FaultedError) Error() string {
	return fmt.Sprintf("stream faulted: %v", e.Err)
}

func (e *FaultedError) Unwrap() error {
	return e.Err
}
