package reconcile

import (
	"context"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/metrics"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/DoyleJ11/truthdare-live/internal/types"
	"go.uber.org/zap"
)

// Fetcher returns the authoritative room state.
type Fetcher interface {
	GetRoomState(ctx context.Context, roomCode string) (room.State, error)
}

type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed"
	PhaseStopped Phase = "stopped"
)

// View is what the presentation layer reads. State is a private copy.
type View struct {
	RoomCode string
	PlayerID string
	Phase    Phase
	State    *room.State
	IsAdmin  bool
	Version  int
	Err      error
}

type FetchError struct {
	RoomCode string
	Err      error
}

func (e *FetchError) Error() string {
	return "fetch room " + e.RoomCode + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

type Options struct {
	RoomCode string
	PlayerID string
	Fetcher  Fetcher
	// Post runs fn on the owning loop and reports false once the loop is gone.
	Post func(fn func()) bool
	// OnChange runs on the owning loop after every visible change.
	OnChange     func(View)
	FetchTimeout time.Duration
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// Reconciler owns the room state of one session. Every method except New must
// run on the owning loop; fetches run elsewhere and come back through Post.
type Reconciler struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc

	// seq grows with every fetch issued and every pushed snapshot applied; a
	// fetch result is only applied if seq has not moved since it was issued.
	seq     uint64
	state   *room.State
	isAdmin bool
	phase   Phase
	err     error
	version int
}

func New(parent context.Context, o Options) *Reconciler {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Reconciler{
		opts:    o,
		log:     log.With(zap.String("room", o.RoomCode)),
		metrics: o.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		phase:   PhaseLoading,
	}
}

// Start issues the initial authoritative fetch.
func (r *Reconciler) Start() {
	if r.phase == PhaseStopped {
		return
	}
	r.fetch("initial")
}

func (r *Reconciler) HandleEvent(ev types.Event) {
	if r.phase == PhaseStopped {
		return
	}
	switch ActionFor(ev.Type) {
	case ApplySnapshot:
		s, err := ev.Snapshot()
		if err != nil {
			r.log.Warn("unusable snapshot, refetching", zap.String("topic", ev.Topic), zap.Error(err))
			r.fetch(string(ev.Type))
			return
		}
		r.seq++
		r.replace(s)
	case Refetch:
		r.fetch(string(ev.Type))
	default:
		r.log.Info("ignoring unknown event", zap.String("event", string(ev.Type)), zap.String("topic", ev.Topic))
	}
}

// Connected resyncs after a reconnect, since events sent during the gap are
// gone.
func (r *Reconciler) Connected(resumed bool) {
	if resumed && r.phase != PhaseStopped {
		r.fetch("resync")
	}
}

// Stop discards every in-flight fetch. It is idempotent.
func (r *Reconciler) Stop() {
	if r.phase == PhaseStopped {
		return
	}
	r.seq++
	r.phase = PhaseStopped
	r.cancel()
	r.notify()
}

func (r *Reconciler) View() View {
	v := View{
		RoomCode: r.opts.RoomCode,
		PlayerID: r.opts.PlayerID,
		Phase:    r.phase,
		IsAdmin:  r.isAdmin,
		Version:  r.version,
		Err:      r.err,
	}
	if r.state != nil {
		s := r.state.Clone()
		v.State = &s
	}
	return v
}

func (r *Reconciler) fetch(reason string) {
	r.seq++
	seq := r.seq
	r.log.Debug("fetching room state", zap.String("reason", reason), zap.Uint64("seq", seq))

	ctx, cancel := r.ctx, context.CancelFunc(func() {})
	if r.opts.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.opts.FetchTimeout)
	}
	go func() {
		defer cancel()
		s, err := r.opts.Fetcher.GetRoomState(ctx, r.opts.RoomCode)
		if !r.opts.Post(func() { r.fetched(seq, s, err) }) {
			r.metrics.Fetch("discarded")
		}
	}()
}

func (r *Reconciler) fetched(seq uint64, s room.State, err error) {
	if r.phase == PhaseStopped || seq != r.seq {
		r.metrics.Fetch("discarded")
		r.log.Debug("discarding superseded fetch", zap.Uint64("seq", seq), zap.Uint64("latest", r.seq))
		return
	}
	if err == nil {
		err = s.Validate()
	}
	if err != nil {
		r.metrics.Fetch("failed")
		fe := &FetchError{RoomCode: r.opts.RoomCode, Err: err}
		if r.state == nil {
			r.log.Warn("initial room state fetch failed", zap.Error(err))
			r.phase = PhaseFailed
			r.err = fe
			r.notify()
			return
		}
		r.log.Warn("room state fetch failed, keeping previous state", zap.Error(err))
		return
	}
	r.metrics.Fetch("applied")
	r.replace(s)
}

// replace swaps in a whole snapshot; fields are never merged.
func (r *Reconciler) replace(s room.State) {
	r.state = &s
	r.isAdmin = s.IsAdmin(r.opts.PlayerID)
	r.version++
	r.phase = PhaseReady
	r.err = nil
	r.log.Debug("room state replaced",
		zap.Int("version", r.version),
		zap.String("status", string(s.Status)),
		zap.Int("players", len(s.Players)),
	)
	r.notify()
}

func (r *Reconciler) notify() {
	if r.opts.OnChange != nil {
		r.opts.OnChange(r.View())
	}
}
