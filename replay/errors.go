package replay

import (
	"errors"
	"fmt"
)

// ErrorKind classifies replay errors for outcome determination.
type ErrorKind int

const (
	// ErrorDecode indicates an unreadable log or a corrupt frame.
	ErrorDecode ErrorKind = iota
	// ErrorProtocol indicates a record sequence the engine cannot replay,
	// such as a final record with no exit before it.
	ErrorProtocol
	// ErrorDelivery indicates the sender rejected a record or failed to
	// finish.
	ErrorDelivery
	// ErrorCanceled indicates context cancellation.
	ErrorCanceled
)

// String returns a human-readable kind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorDecode:
		return "decode"
	case ErrorProtocol:
		return "protocol"
	case ErrorDelivery:
		return "delivery"
	case ErrorCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Error is a replay failure. Every kind is fatal for the target.
type Error struct {
	Kind ErrorKind
	// Num is the number of the record being processed, 0 if none.
	Num int64
	Err error
}

func (e *Error) Error() string {
	if e.Num > 0 {
		return fmt.Sprintf("%s error at record %d: %v", e.Kind, e.Num, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isKind(err error, kind ErrorKind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// IsDecodeError returns true if the error is a decode failure.
func IsDecodeError(err error) bool {
	return isKind(err, ErrorDecode)
}

// IsProtocolError returns true if the error is a protocol violation.
func IsProtocolError(err error) bool {
	return isKind(err, ErrorProtocol)
}

// IsDeliveryError returns true if the error came from the sender.
func IsDeliveryError(err error) bool {
	return isKind(err, ErrorDelivery)
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	return isKind(err, ErrorCanceled)
}
