// Package rerrors classifies the error kinds named in the error handling
// design: TransportError, ProtocolError, PolicyRejection, CollaboratorError
// and ConfigError. Every package-boundary error is wrapped with
// go-errors/errors so a top-level log line can print a stack, the same way
// discovery and peer.go do in the teacher codebase.
package rerrors

import (
	"fmt"

	"github.com/go-errors/errors"
)

// Kind classifies an error for the propagation policy: per-message and
// per-tick errors are contained, startup/config errors and mesh-transport
// loss are fatal.
type Kind int

const (
	// KindTransport indicates a dead socket; the owning session must be
	// closed.
	KindTransport Kind = iota

	// KindProtocol indicates a bad signature, stale timestamp, or unknown
	// message type; the message is dropped but the session survives.
	KindProtocol

	// KindPolicy indicates the invoice acceptance policy rejected a
	// payInvoice; the responder still replies with paymentResult.
	KindPolicy

	// KindCollaborator indicates an LN collaborator call failed.
	KindCollaborator

	// KindConfig indicates a fatal startup misconfiguration.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindPolicy:
		return "policy"
	case KindCollaborator:
		return "collaborator"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a classified, stack-carrying error.
type Error struct {
	Kind Kind
	err  *errors.Error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.err.Error())
}

// Stack returns the formatted stack trace captured at construction time.
func (e *Error) Stack() string {
	return string(e.err.Stack())
}

// Unwrap allows errors.Is/As to see through to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err.Err
}

func newErr(kind Kind, cause error) *Error {
	return &Error{Kind: kind, err: errors.Wrap(cause, 1)}
}

// Transport wraps cause as a TransportError.
func Transport(cause error) *Error { return newErr(KindTransport, cause) }

// Protocol wraps cause as a ProtocolError.
func Protocol(cause error) *Error { return newErr(KindProtocol, cause) }

// Policy wraps cause as a PolicyRejection.
func Policy(cause error) *Error { return newErr(KindPolicy, cause) }

// Collaborator wraps cause as a CollaboratorError.
func Collaborator(cause error) *Error { return newErr(KindCollaborator, cause) }

// Config wraps cause as a ConfigError.
func Config(cause error) *Error { return newErr(KindConfig, cause) }

// Protocolf builds a ProtocolError from a format string.
func Protocolf(format string, args ...interface{}) *Error {
	return Protocol(fmt.Errorf(format, args...))
}

// Policyf builds a PolicyRejection from a format string.
func Policyf(format string, args ...interface{}) *Error {
	return Policy(fmt.Errorf(format, args...))
}

// Transportf builds a TransportError from a format string.
func Transportf(format string, args ...interface{}) *Error {
	return Transport(fmt.Errorf(format, args...))
}
