// Package command coordinates write commands issued by the presentation
// layer: debouncing high-frequency continuous writes and sequencing commands
// that require a prerequisite device mode.
package command

import "fmt"

// CompletionFunc reports the outcome of an asynchronously issued command.
// A nil error means the device accepted the command.
type CompletionFunc func(err error)

// CommandError wraps a write that the device rejected or that never reached
// it. Commands are not retried; the error is surfaced to the original caller.
type CommandError struct {
	Method string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Method, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// SequenceError wraps a failed mode-switch step. The follow-up command is
// never issued after a SequenceError.
type SequenceError struct {
	Mode string
	Err  error
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("mode switch to %q failed: %v", e.Mode, e.Err)
}

func (e *SequenceError) Unwrap() error {
	return e.Err
}
