package csm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// maxDetails bounds how much of an error body is kept.
const maxDetails = 500

// Reason distinguishes remote-service failures.
type Reason string

const (
	ReasonTimeout   Reason = "timeout"
	ReasonHTTP      Reason = "http"
	ReasonMalformed Reason = "malformed"
	ReasonNetwork   Reason = "network"
)

// ServiceError is a failure talking to a CSM.ai service.
type ServiceError struct {
	Reason  Reason
	Status  int    // HTTP status for ReasonHTTP
	Message string // user-facing message
	Details string // truncated response body, if any
	Err     error
}

func (e *ServiceError) Error() string {
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a ServiceError caused by a timeout.
func IsTimeout(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Reason == ReasonTimeout
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func networkError(prefix string, err error) *ServiceError {
	reason := ReasonNetwork
	if isTimeout(err) {
		reason = ReasonTimeout
	}
	return &ServiceError{
		Reason:  reason,
		Message: fmt.Sprintf("%s: %v", prefix, err),
		Err:     err,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
