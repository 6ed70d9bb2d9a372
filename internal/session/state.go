package session

import "time"

type State int

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

func (s State) active() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}

// Connectivity is the coarse status shown to a player.
type Connectivity string

const (
	Disconnected Connectivity = "DISCONNECTED"
	Pending      Connectivity = "CONNECTING"
	Online       Connectivity = "CONNECTED"
	Failing      Connectivity = "ERROR"
)

func (s State) Connectivity() Connectivity {
	switch s {
	case Connecting:
		return Pending
	case Connected:
		return Online
	case Reconnecting:
		return Failing
	default:
		return Disconnected
	}
}

// Snapshot is a point-in-time copy of the manager's status.
type Snapshot struct {
	State        State
	Connectivity Connectivity
	RoomCode     string
	Epoch        uint64
	Topics       []string
	Attempts     int
	LastErr      error
	At           time.Time
}
