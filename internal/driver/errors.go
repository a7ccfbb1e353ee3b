package driver

import (
	"errors"
	"fmt"
)

// ErrorKind classifies driver failures into the closed set the API layer
// reports to operators.
type ErrorKind int

const (
	// KindUnclassified covers driver failures with no more specific cause.
	KindUnclassified ErrorKind = iota
	// KindNoMessage means the driver had nothing to deliver or send within
	// the operation's window.
	KindNoMessage
	// KindTimeout means no acknowledgement arrived in time. On transmit the
	// common cause is the absence of any acknowledging peer on the bus.
	KindTimeout
	// KindBusError is a fault reported by the bus or controller.
	KindBusError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoMessage:
		return "no message"
	case KindTimeout:
		return "timeout"
	case KindBusError:
		return "bus error"
	default:
		return "unclassified"
	}
}

// Error is a classified driver failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a driver failure of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err, or KindUnclassified when err
// is not a driver error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnclassified
}

// IsNoMessage reports whether err means "nothing arrived within the window".
func IsNoMessage(err error) bool { return KindOf(err) == KindNoMessage }

// IsTimeout reports whether err is a driver-level timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }
