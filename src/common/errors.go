package common

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures surfaced by the node engine.
type ErrorKind uint32

const (
	// MalformedFrame ...
	MalformedFrame ErrorKind = iota + 1
	// SignatureRejected ...
	SignatureRejected
	// ConnectionError ...
	ConnectionError
	// ConfigurationError ...
	ConfigurationError
	// EncodeError ...
	EncodeError
	// DeliveryError ...
	DeliveryError
)

// String ...
func (k ErrorKind) String() string {
	switch k {
	case MalformedFrame:
		return "Malformed Frame"
	case SignatureRejected:
		return "Signature Rejected"
	case ConnectionError:
		return "Connection Error"
	case ConfigurationError:
		return "Configuration Error"
	case EncodeError:
		return "Encode Error"
	case DeliveryError:
		return "Delivery Error"
	default:
		return "Unknown"
	}
}

// Error is a classified error. Op names the operation that failed and Err is
// the underlying cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError ...
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// Error ...
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s, %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s, %s, %v", e.Kind, e.Op, e.Err)
}

// Unwrap ...
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind when the target carries no cause,
// so errors.Is(err, &Error{Kind: DeliveryError}) works as a kind test.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

// IsKind checks that an error wraps an *Error and that its kind matches the
// provided one.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of the first *Error found in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
