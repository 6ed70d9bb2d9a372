package live

import (
	"context"
	"sync"

	"github.com/DoyleJ11/truthdare-live/internal/reconcile"
	"github.com/DoyleJ11/truthdare-live/internal/session"
	"go.uber.org/zap"
)

// Room is the handle for one joined room.
type Room struct {
	ID       string
	Code     string
	PlayerID string

	client *Client
	rec    *reconcile.Reconciler
	log    *zap.Logger

	mu      sync.Mutex
	view    reconcile.View
	changed chan struct{}
	updates chan reconcile.View
	once    sync.Once
}

func newRoom(c *Client, code, playerID string) *Room {
	id := newSessionID()
	return &Room{
		ID:       id,
		Code:     code,
		PlayerID: playerID,
		client:   c,
		log: c.log.With(
			zap.String("room", code),
			zap.String("player", playerID),
			zap.String("session", id),
		),
		view:    reconcile.View{RoomCode: code, PlayerID: playerID, Phase: reconcile.PhaseLoading},
		changed: make(chan struct{}),
		updates: make(chan reconcile.View, 1),
	}
}

// View returns the latest room view. Its State is the caller's own copy.
func (r *Room) View() reconcile.View {
	r.mu.Lock()
	v := r.view
	r.mu.Unlock()
	if v.State != nil {
		s := v.State.Clone()
		v.State = &s
	}
	return v
}

// Updates yields the latest view after each change. Views a slow reader
// misses are replaced by newer ones. The channel is closed by Leave.
func (r *Room) Updates() <-chan reconcile.View { return r.updates }

// Wait blocks until ok accepts the current view or ctx ends.
func (r *Room) Wait(ctx context.Context, ok func(reconcile.View) bool) (reconcile.View, error) {
	for {
		r.mu.Lock()
		ch := r.changed
		r.mu.Unlock()

		if v := r.View(); ok(v) {
			return v, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return r.View(), ctx.Err()
		}
	}
}

func (r *Room) Status() session.Snapshot { return r.client.mgr.Status() }

// Leave stops reconciliation, then disconnects. In-flight fetches are
// discarded. Calling it again does nothing.
func (r *Room) Leave() {
	r.once.Do(func() {
		done := make(chan struct{})
		if r.client.mgr.Post(func() {
			r.rec.Stop()
			close(done)
		}) {
			select {
			case <-done:
			case <-r.client.mgr.Done():
			}
		}
		r.client.mgr.Disconnect()
		r.client.forget(r)
		close(r.updates)
		r.log.Info("left room")
	})
}

// publish runs on the session loop.
func (r *Room) publish(v reconcile.View) {
	r.mu.Lock()
	r.view = v
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	select {
	case r.updates <- v:
	default:
		select {
		case <-r.updates:
		default:
		}
		r.updates <- v
	}
}
