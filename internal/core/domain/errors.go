package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBatch          = errors.New("point batch is empty")
	ErrBatchLengthMismatch = errors.New("position and color lengths differ")
	ErrBatchNotTriples     = errors.New("point batch length is not a multiple of 3")
	ErrMalformedPayload    = errors.New("malformed point-cloud payload")
	ErrUnknownViewMode     = errors.New("unknown view mode")
	ErrSessionClosed       = errors.New("session closed")
	ErrTransportSaturated  = errors.New("data transport saturated")
	ErrTransportNotReady   = errors.New("data transport not established")
	ErrMemberNotFound      = errors.New("member not found in room")
)

// HandshakeError wraps a connection-setup payload that could not be decoded
// or repaired. It moves the owning session to the failed state; it is never
// fatal to the process.
type HandshakeError struct {
	Reason string
	Cause  error
}

func (e *HandshakeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("handshake: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("handshake: %s", e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	return e.Cause
}
