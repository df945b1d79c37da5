package push

import "fmt"

// Signal is one decoded control frame from the push stream.
type Signal byte

const (
	// SignalKeepalive is emitted periodically by the service to prove the
	// connection is alive. No action required.
	SignalKeepalive Signal = '#'

	// SignalNewMessage means at least one message is pending.
	SignalNewMessage Signal = '!'

	// SignalReload asks the client to drop the connection and reconnect.
	SignalReload Signal = 'R'

	// SignalError means the server is abandoning this session (for example
	// the device was deleted); the client must reconnect.
	SignalError Signal = 'E'
)

func (s Signal) String() string {
	switch s {
	case SignalKeepalive:
		return "keepalive"
	case SignalNewMessage:
		return "new-message"
	case SignalReload:
		return "reload"
	case SignalError:
		return "error"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(s))
	}
}

// ProtocolError reports a frame byte outside the four known signal values.
type ProtocolError struct {
	Byte byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("push channel: unknown frame byte 0x%02x", e.Byte)
}

// decodeSignal maps a raw frame byte onto a Signal. Unrecognized bytes are a
// protocol violation, never silently passed through.
func decodeSignal(b byte) (Signal, error) {
	switch s := Signal(b); s {
	case SignalKeepalive, SignalNewMessage, SignalReload, SignalError:
		return s, nil
	default:
		return 0, &ProtocolError{Byte: b}
	}
}
