package reconcile

import "github.com/DoyleJ11/truthdare-live/internal/types"

// Action is what an inbound event does to local room state.
type Action int

const (
	Ignore Action = iota
	ApplySnapshot
	Refetch
)

func (a Action) String() string {
	switch a {
	case ApplySnapshot:
		return "apply-snapshot"
	case Refetch:
		return "invalidate-and-refetch"
	default:
		return "ignore"
	}
}

// Only ROOM_STATE carries a complete snapshot; every other known event is a
// signal that state changed on the server.
var policy = map[types.EventType]Action{
	types.EvtRoomState:       ApplySnapshot,
	types.EvtRoomCreated:     Refetch,
	types.EvtPlayerJoined:    Refetch,
	types.EvtPlayerLeft:      Refetch,
	types.EvtGameStarted:     Refetch,
	types.EvtQuestionSent:    Refetch,
	types.EvtAdminOverride:   Refetch,
	types.EvtNextTurn:        Refetch,
	types.EvtGameModeChanged: Refetch,
}

// ActionFor returns Ignore for event types it does not know.
func ActionFor(t types.EventType) Action {
	return policy[t]
}
