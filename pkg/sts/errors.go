package sts

import (
	"errors"
	"fmt"
)

// Error kinds reported by the client. Each is local to one transaction.
var (
	// ErrTransportFailure means the underlying channel write or read failed,
	// or the bytes that came back were not a valid response frame.
	ErrTransportFailure = errors.New("transport failure")

	// ErrTimeout means the servo did not answer within the frame timeout.
	ErrTimeout = errors.New("timeout")

	// ErrPartialRead means one of the telemetry sub-reads failed. No sample
	// is returned in that case.
	ErrPartialRead = errors.New("partial telemetry read")

	// ErrInvalidCommand is returned before anything is sent when a command
	// or register value is outside the device range.
	ErrInvalidCommand = errors.New("invalid command")
)

// BusError describes a failed transaction with a single servo.
// errors.Is matches both the Kind and the wrapped cause.
type BusError struct {
	Op   string
	ID   int
	Kind error
	Err  error
}

func (e *BusError) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("servo %d: %s: %v", e.ID, e.Op, e.Kind)
	case e.Kind == nil:
		return fmt.Sprintf("servo %d: %s: %v", e.ID, e.Op, e.Err)
	}
	return fmt.Sprintf("servo %d: %s: %v: %v", e.ID, e.Op, e.Kind, e.Err)
}

func (e *BusError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
