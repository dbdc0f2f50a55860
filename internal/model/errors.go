package model

import (
	"errors"
)

// Caller facing error kinds. Match them with errors.Is.
var (
	ErrAlreadyRunning     = errors.New("optimizer already running")
	ErrNotRunning         = errors.New("optimizer not running")
	ErrExecutableNotFound = errors.New("optimizer executable not found")
	ErrConfigLocked       = errors.New("configuration is locked while the optimizer runs")
	ErrLaunchFailure      = errors.New("optimizer failed to launch")
	ErrTerminationFailure = errors.New("optimizer did not terminate")
	ErrInvalidConfig      = errors.New("invalid run configuration")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrAlreadyRunning, "AlreadyRunning"},
	{ErrNotRunning, "NotRunning"},
	{ErrExecutableNotFound, "ExecutableNotFound"},
	{ErrConfigLocked, "ConfigLocked"},
	{ErrLaunchFailure, "LaunchFailure"},
	{ErrTerminationFailure, "TerminationFailure"},
	{ErrInvalidConfig, "InvalidConfig"},
}

// Kind returns the stable name of the error kind wrapped in err,
// or an empty string for errors outside the taxonomy.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// Error carries a kind together with an optional remediation hint.
type Error struct {
	Kind    error  // one of the Err* kinds above
	Detail  string // extra human text
	Hint    string // what the operator can do about it
	Command string // command which fixes the problem, if any
	Err     error  // underlying cause
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
