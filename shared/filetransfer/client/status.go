package client

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CallStatus is the transport level outcome of a remote call.
type CallStatus int

const (
	Success CallStatus = iota
	OutOfMemory
	NotAvailable
	ConnectionFailed
	RemoteError
	Unknown
	InvalidValue
	SubscriptionRefused
	SerializationError
)

func (s CallStatus) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case NotAvailable:
		return "NOT_AVAILABLE"
	case ConnectionFailed:
		return "CONNECTION_FAILED"
	case RemoteError:
		return "REMOTE_ERROR"
	case InvalidValue:
		return "INVALID_VALUE"
	case SubscriptionRefused:
		return "SUBSCRIPTION_REFUSED"
	case SerializationError:
		return "SERIALIZATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// CallError is returned by a Proxy when a remote call did not complete successfully.
type CallError struct {
	Method string
	Status CallStatus
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s() failed - call status: %d (%s): %v", e.Method, int(e.Status), e.Status, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// StatusOf extracts the call status from err. A nil error is Success and an
// error that did not come from a remote call is Unknown.
func StatusOf(err error) CallStatus {
	if err == nil {
		return Success
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Status
	}
	return Unknown
}

func toCallError(method string, err error) error {
	return &CallError{Method: method, Status: fromCode(status.Code(err)), Err: err}
}

func fromCode(code codes.Code) CallStatus {
	switch code {
	case codes.OK:
		return Success
	case codes.ResourceExhausted:
		return OutOfMemory
	case codes.Unavailable, codes.Unimplemented:
		return NotAvailable
	case codes.Canceled, codes.DeadlineExceeded:
		return ConnectionFailed
	case codes.InvalidArgument, codes.OutOfRange:
		return InvalidValue
	case codes.PermissionDenied, codes.Unauthenticated:
		return SubscriptionRefused
	case codes.Internal:
		return SerializationError
	case codes.Unknown:
		return Unknown
	default:
		return RemoteError
	}
}
