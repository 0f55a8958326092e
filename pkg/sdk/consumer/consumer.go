// Package consumer defines the delivery backend contract shared by every
// sink (file, batch, async batch, debug, memory) and the errors they report.
package consumer

import (
	"errors"
	"fmt"

	"github.com/nicktill/tinyevents/pkg/event"
)

// Consumer delivers assembled records to a receiver.
//
// Send and Flush may be called from many goroutines. Close flushes what is
// buffered and releases the backend's resources; calling it again is a no-op.
type Consumer interface {
	// Send enqueues or transmits one record
	Send(rec *event.Record) error

	// Flush forces delivery of everything buffered
	Flush() error

	// Close flushes and releases resources
	Close() error

	// IsStrict reports whether records must be validated and carry an identifier
	IsStrict() bool
}

// ErrClosed is returned by Send on a closed consumer.
var ErrClosed = errors.New("consumer closed")

// SerializationError means a record or batch could not be encoded. The
// affected records are dropped.
type SerializationError struct {
	Records int
	Err     error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("failed to serialize %d record(s): %v", e.Records, e.Err)
}

// Unwrap returns the encoder error.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// TransportError covers connection failures, timeouts and non-200 replies.
type TransportError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("post %s: response status %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("post %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying transport error, if any.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ReceiverKind classifies a rejection reported by the receiver.
type ReceiverKind int

const (
	KindUnexpected ReceiverKind = iota
	KindInvalidData
	KindUnknownAppID
	KindDisallowedIP
)

// String returns the default receiver message for k.
func (k ReceiverKind) String() string {
	switch k {
	case KindInvalidData:
		return "invalid data format"
	case KindUnknownAppID:
		return "APP ID doesn't exist"
	case KindDisallowedIP:
		return "invalid ip transmission"
	default:
		return "unexpected response return code"
	}
}

// KindForCode maps a receiver result code to its kind.
func KindForCode(code int) ReceiverKind {
	switch code {
	case -1:
		return KindInvalidData
	case -2:
		return KindUnknownAppID
	case -3:
		return KindDisallowedIP
	default:
		return KindUnexpected
	}
}

// ReceiverError is a well-formed reply carrying a nonzero result code.
type ReceiverError struct {
	Code int
	Msg  string
	Kind ReceiverKind
}

// NewReceiverError builds the error for a nonzero result code.
func NewReceiverError(code int, msg string) *ReceiverError {
	return &ReceiverError{Code: code, Msg: msg, Kind: KindForCode(code)}
}

// Error implements the error interface.
func (e *ReceiverError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	return fmt.Sprintf("receiver rejected data (code %d): %s", e.Code, msg)
}
