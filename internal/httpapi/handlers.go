package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/DoyleJ11/truthdare-live/internal/reconcile"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/DoyleJ11/truthdare-live/internal/session"
)

// Source is what the status server reports on.
type Source interface {
	Status() session.Snapshot
	// View reports false while no room is joined.
	View() (reconcile.View, bool)
}

type stateResponse struct {
	Connectivity session.Connectivity `json:"connectivity"`
	Lifecycle    string               `json:"lifecycle"`
	RoomCode     string               `json:"roomCode,omitempty"`
	Epoch        uint64               `json:"epoch"`
	Topics       []string             `json:"topics"`
	Attempts     int                  `json:"reconnectAttempts"`
	LastError    string               `json:"lastError,omitempty"`

	Phase   reconcile.Phase `json:"phase,omitempty"`
	Version int             `json:"version"`
	IsAdmin bool            `json:"isAdmin"`
	Room    *room.State     `json:"room,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func State(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := src.Status()
		resp := stateResponse{
			Connectivity: s.Connectivity,
			Lifecycle:    s.State.String(),
			RoomCode:     s.RoomCode,
			Epoch:        s.Epoch,
			Topics:       s.Topics,
			Attempts:     s.Attempts,
		}
		if resp.Topics == nil {
			resp.Topics = []string{}
		}
		if s.LastErr != nil {
			resp.LastError = s.LastErr.Error()
		}
		if v, ok := src.View(); ok {
			resp.Phase = v.Phase
			resp.Version = v.Version
			resp.IsAdmin = v.IsAdmin
			resp.Room = v.State
			if v.Err != nil {
				resp.Error = v.Err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Readyz is 200 once the push connection is up and room state has loaded.
func Readyz(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src.Status().State != session.Connected {
			http.Error(w, "not connected", http.StatusServiceUnavailable)
			return
		}
		if v, ok := src.View(); !ok || v.Phase != reconcile.PhaseReady {
			http.Error(w, "room state not loaded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
