package smt

import (
	"fmt"
	"strings"
)

// Status is the tag of a Result.
type Status int

const (
	StatusSat Status = iota
	StatusUnsat
	StatusUnknown
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSat:
		return "sat"
	case StatusUnsat:
		return "unsat"
	case StatusUnknown:
		return "unknown"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the terminal outcome of one script. Message is only set for
// StatusError and carries the raw solver response or a failure description.
type Result struct {
	Status  Status
	Message string
}

func Sat() Result     { return Result{Status: StatusSat} }
func Unsat() Result   { return Result{Status: StatusUnsat} }
func Unknown() Result { return Result{Status: StatusUnknown} }

// Error returns an error result carrying msg verbatim.
func Error(msg string) Result { return Result{Status: StatusError, Message: msg} }

// Errorf formats an error result.
func Errorf(format string, args ...any) Result {
	return Error(fmt.Sprintf(format, args...))
}

// IsError reports whether r is an Error outcome.
func (r Result) IsError() bool { return r.Status == StatusError }

func (r Result) String() string {
	if r.Status == StatusError {
		return fmt.Sprintf("error(%s)", r.Message)
	}
	return r.Status.String()
}

// Classify maps the reply to a satisfiability query onto a Result.
// Anything that is not one of the literal result tokens becomes an Error
// holding the raw text.
func Classify(raw string) Result {
	switch strings.TrimSpace(raw) {
	case "sat":
		return Sat()
	case "unsat":
		return Unsat()
	case "unknown":
		return Unknown()
	default:
		return Error(raw)
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "sat":
		return StatusSat, nil
	case "unsat":
		return StatusUnsat, nil
	case "unknown":
		return StatusUnknown, nil
	case "error":
		return StatusError, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}
