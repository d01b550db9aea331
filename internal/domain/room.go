package domain

type RoomName string

// RoomState is the lifecycle state of a Room.
type RoomState string

const (
	StateDisconnected RoomState = "disconnected"
	StateConnecting   RoomState = "connecting"
	StateConnected    RoomState = "connected"
	// StateReconnecting is only entered by adapters whose SDK performs transient recovery.
	StateReconnecting RoomState = "reconnecting"
	StateError        RoomState = "error"
)

func (s RoomState) String() string { return string(s) }

// IsActive reports whether a room in this state may hold live media resources.
func (s RoomState) IsActive() bool {
	return s == StateConnecting || s == StateConnected || s == StateReconnecting
}

// JoinOptions carries the address of the room to join.
// URL is required by every adapter; Name is the display name announced to peers.
type JoinOptions struct {
	URL  string
	Name string
}
