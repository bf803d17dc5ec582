package driver

import (
	"errors"
	"fmt"
	"strings"

	"hackohio/solverd/pkg/smt"
)

var (
	// ErrBinaryNotAllowed means the resolved solver binary is not on the allowlist.
	ErrBinaryNotAllowed = errors.New("solver binary not allowed")

	// ErrNotAcknowledged means the solver did not answer the configuration
	// handshake with "success".
	ErrNotAcknowledged = errors.New("configuration not acknowledged")

	// ErrProcessExited means the solver process is gone.
	ErrProcessExited = errors.New("solver process exited")

	// ErrProcessBusy means two exchanges were attempted on one process at once.
	ErrProcessBusy = errors.New("solver process already in use")

	// ErrOutOfSync means the solver's replies no longer line up with the
	// commands sent to it.
	ErrOutOfSync = errors.New("solver replies out of sync")
)

// SpawnError reports a solver that could not be launched or configured.
type SpawnError struct {
	Flavor smt.Flavor
	Path   string
	Err    error
	Stderr string
}

func (e *SpawnError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "spawn %s", e.Flavor)
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "; stderr: %s", s)
	}
	return b.String()
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProtocolError is a command that got something other than "success", or
// one that was refused before sending because it is not exactly one
// command. In the latter case Err is set and Response is empty.
type ProtocolError struct {
	Command  string
	Response string
	Err      error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command %q not sent: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("command %q rejected: %s", e.Command, e.Response)
}

// Reason is the solver's reply, or why the command was not sent.
func (e *ProtocolError) Reason() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Response
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IOError reports a broken exchange: a closed stream, an exited process or a
// cancelled wait. The process must be considered dead afterwards.
type IOError struct {
	Process string
	Op      string
	Command string
	Err     error
	Stderr  string
}

func (e *IOError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Process, e.Op)
	if e.Command != "" {
		fmt.Fprintf(&b, " %q", e.Command)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, "; stderr: %s", s)
	}
	return b.String()
}

func (e *IOError) Unwrap() error { return e.Err }
