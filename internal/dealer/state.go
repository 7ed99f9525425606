// internal/dealer/state.go
package dealer

import "errors"

// State is where a Session is in its connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Wire commands understood by the dealer.
const (
	CommandShuffle    = "SHUFFLE"
	CommandDisconnect = "DISCONNECT"
)

var (
	// ErrConnection means the transport could not be established.
	ErrConnection = errors.New("dealer connection failed")

	// ErrSend means a command could not be written. The session stays up.
	ErrSend = errors.New("dealer send failed")

	// ErrConnectionLost is passed to OnConnectionLost when the dealer side
	// ended the session or the read failed.
	ErrConnectionLost = errors.New("dealer connection lost")

	// ErrNotConnected is returned by commands issued outside the Connected state.
	ErrNotConnected = errors.New("dealer session not connected")

	// ErrSessionClosed is returned when Connect is called on a session that
	// has already been connected and closed. Create a new Session instead.
	ErrSessionClosed = errors.New("dealer session closed")
)
