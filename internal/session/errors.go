package session

import "fmt"

// Kind classifies session errors by how they are recovered.
type Kind int

const (
	// KindTransport is a dropped link or failed flash; the link layer
	// reconnects and the session starts over.
	KindTransport Kind = iota
	// KindProtocol is an "Error" reply from the device; the operation is
	// retried.
	KindProtocol
	// KindDataIntegrity is a capture that cannot be used; it is discarded and
	// the user is told.
	KindDataIntegrity
	// KindService is an upstream AI failure; the user is told.
	KindService
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindDataIntegrity:
		return "data integrity"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// UserVisible reports whether errors of this kind are shown in the chat and
// relayed to the device.
func (k Kind) UserVisible() bool {
	return k == KindDataIntegrity || k == KindService
}

// Error is a failure the session observed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
