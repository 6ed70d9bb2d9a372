// Package live is the entry point for keeping one room in sync.
//
// A Client owns one push connection. Join binds it to a room and returns a
// Room handle; Leave (or Client.Close) tears the binding down again. Only one
// room can be joined at a time per Client.
package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/metrics"
	"github.com/DoyleJ11/truthdare-live/internal/reconcile"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/DoyleJ11/truthdare-live/internal/session"
	"github.com/DoyleJ11/truthdare-live/internal/transport"
	"github.com/DoyleJ11/truthdare-live/internal/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("live client closed")

type Config struct {
	URL          string
	Adapter      transport.Adapter
	Fetcher      reconcile.Fetcher
	Backoff      func() backoff.BackOff
	FetchTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	// OnStatus sees every lifecycle transition, on the session loop.
	OnStatus func(session.Snapshot)
}

type Client struct {
	cfg Config
	log *zap.Logger
	ctx context.Context
	mgr *session.Manager

	mu     sync.Mutex
	room   *Room
	closed bool
}

func NewClient(ctx context.Context, cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		log: log,
		ctx: ctx,
		mgr: session.New(ctx, session.Options{
			URL:      cfg.URL,
			Adapter:  cfg.Adapter,
			Backoff:  cfg.Backoff,
			Logger:   log,
			Metrics:  cfg.Metrics,
			OnStatus: cfg.OnStatus,
		}),
	}
}

// Join starts syncing roomCode as playerID. Joining the room that is already
// joined returns the existing handle; any other room fails with
// session.ErrBusy until the current one is left.
func (c *Client) Join(ctx context.Context, roomCode, playerID string) (*Room, error) {
	code, err := room.NormalizeCode(roomCode)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if r := c.room; r != nil {
		if r.Code == code && r.PlayerID == playerID {
			return r, nil
		}
		return nil, session.ErrBusy
	}

	r := newRoom(c, code, playerID)
	r.rec = reconcile.New(c.ctx, reconcile.Options{
		RoomCode:     code,
		PlayerID:     playerID,
		Fetcher:      c.cfg.Fetcher,
		Post:         c.mgr.Post,
		OnChange:     r.publish,
		FetchTimeout: c.cfg.FetchTimeout,
		Logger:       r.log,
		Metrics:      c.cfg.Metrics,
	})

	if !c.mgr.Post(r.rec.Start) {
		return nil, ErrClosed
	}
	if err := c.mgr.Connect(ctx, code, bridge{r.rec}); err != nil {
		// The loop may still run the connect after ctx ended; nobody would
		// own that session.
		c.mgr.Post(r.rec.Stop)
		c.mgr.Disconnect()
		return nil, err
	}
	r.log.Info("joined room")
	c.room = r
	return r, nil
}

// Room returns the joined room, or nil.
func (c *Client) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) Status() session.Snapshot { return c.mgr.Status() }

// View returns the joined room's view, or false when no room is joined.
func (c *Client) View() (reconcile.View, bool) {
	r := c.Room()
	if r == nil {
		return reconcile.View{}, false
	}
	return r.View(), true
}

// Close leaves the joined room, if any, and stops the client.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	r := c.room
	c.mu.Unlock()

	if r != nil {
		r.Leave()
	}
	c.mgr.Close()
}

func (c *Client) forget(r *Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == r {
		c.room = nil
	}
}

// bridge adapts the reconciler to the session loop's handler.
type bridge struct{ rec *reconcile.Reconciler }

func (b bridge) HandleEvent(ev types.Event) { b.rec.HandleEvent(ev) }
func (b bridge) Connected(resumed bool)     { b.rec.Connected(resumed) }

// newSessionID tags every log line of one join.
func newSessionID() string { return uuid.NewString() }
