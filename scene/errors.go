package scene

import "fmt"

// opError is a user-facing message that still matches a package sentinel.
type opError struct {
	msg string
	err error
}

func (e *opError) Error() string { return e.msg }
func (e *opError) Unwrap() error { return e.err }

func newError(sentinel error, format string, args ...any) error {
	return &opError{msg: fmt.Sprintf(format, args...), err: sentinel}
}
