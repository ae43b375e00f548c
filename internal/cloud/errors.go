package cloud

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call for the supervisor.
type Kind int

const (
	KindTransport Kind = iota
	KindClaimPending
	KindClaimNotFound
	KindClaimExpired
	KindAuthInvalid
	KindAuthRevoked
	KindProtocol
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindClaimPending:
		return "claim pending"
	case KindClaimNotFound:
		return "claim not found"
	case KindClaimExpired:
		return "claim expired"
	case KindAuthInvalid:
		return "auth invalid"
	case KindAuthRevoked:
		return "auth revoked"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Client call that does not succeed.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("cloud: %s (%d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("cloud: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindTransport for foreign errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransport
}

// Transient reports whether the call may simply be retried later.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindProtocol, KindServer, KindClaimPending:
		return true
	}
	return false
}
