package kakao

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Cause says why a call to the Kakao API failed.
type Cause string

const (
	CauseTransport         Cause = "transport"
	CauseTimeout           Cause = "timeout"
	CauseRemoteRejected    Cause = "remote_rejected"
	CauseMalformedResponse Cause = "malformed_response"
)

type Error struct {
	Op         string
	Cause      Cause
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Cause {
	case CauseRemoteRejected:
		return fmt.Sprintf("kakao %s: %s: HTTP %d - %s", e.Op, e.Cause, e.StatusCode, e.Body)
	default:
		if e.Err != nil {
			return fmt.Sprintf("kakao %s: %s: %v", e.Op, e.Cause, e.Err)
		}
		return fmt.Sprintf("kakao %s: %s", e.Op, e.Cause)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// CauseOf returns the cause of a Kakao error, or "" if err is not one.
func CauseOf(err error) Cause {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Cause
	}
	return ""
}

func transportError(op string, err error) *Error {
	cause := CauseTransport
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		cause = CauseTimeout
	}
	return &Error{Op: op, Cause: cause, Err: err}
}
