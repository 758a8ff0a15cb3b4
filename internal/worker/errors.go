package worker

import "errors"

// terminalError marks a handler error that retrying cannot fix (bad input,
// unsupported format). The pool fails such jobs immediately instead of
// consuming the remaining attempt budget.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the pool treats it as a final failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err carries the terminal marker.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}
