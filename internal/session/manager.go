// Package session drives one push connection per client through
// connect, subscribe, reconnect and teardown.
//
// All state lives on a single loop goroutine. Transport callbacks, frames,
// retry timers and posted tasks reach it as inbox messages; callbacks from a
// connection that has since been replaced carry an old epoch and are dropped.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/dispatch"
	"github.com/DoyleJ11/truthdare-live/internal/metrics"
	"github.com/DoyleJ11/truthdare-live/internal/room"
	"github.com/DoyleJ11/truthdare-live/internal/subscription"
	"github.com/DoyleJ11/truthdare-live/internal/transport"
	"github.com/DoyleJ11/truthdare-live/internal/types"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultRetryDelay is the constant reconnect delay used when no backoff
// policy is configured.
const DefaultRetryDelay = 5 * time.Second

var (
	ErrBusy    = errors.New("session already active for another room")
	ErrStopped = errors.New("session manager stopped")
)

// Handler receives decoded events and connection notices on the loop.
type Handler interface {
	HandleEvent(ev types.Event)
	// Connected runs on every entry to CONNECTED; resumed is true after a
	// reconnect.
	Connected(resumed bool)
}

type Options struct {
	URL     string
	Adapter transport.Adapter
	// Backoff builds the reconnect policy for each session. Nil means a
	// constant DefaultRetryDelay.
	Backoff  func() backoff.BackOff
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	OnStatus func(Snapshot)
}

type msg interface{ isSessionMsg() }

type connectMsg struct {
	code  string
	h     Handler
	reply chan error
}

type disconnectMsg struct{ reply chan struct{} }

type statusMsg struct{ reply chan Snapshot }

type task struct{ fn func() }

type sendMsg struct {
	topic   string
	payload []byte
}

type opened struct{ epoch uint64 }

type failed struct {
	epoch uint64
	err   error
}

type dropped struct {
	epoch uint64
	err   error
}

type retryDue struct{ epoch uint64 }

type frame struct {
	epoch   uint64
	topic   string
	payload []byte
}

func (connectMsg) isSessionMsg()    {}
func (disconnectMsg) isSessionMsg() {}
func (statusMsg) isSessionMsg()     {}
func (task) isSessionMsg()          {}
func (sendMsg) isSessionMsg()       {}
func (opened) isSessionMsg()        {}
func (failed) isSessionMsg()        {}
func (dropped) isSessionMsg()       {}
func (retryDue) isSessionMsg()      {}
func (frame) isSessionMsg()         {}

type Manager struct {
	opts    Options
	base    *zap.Logger
	log     *zap.Logger
	metrics *metrics.Metrics

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// loop-owned
	state         State
	code          string
	handler       Handler
	conn          transport.Conn
	epoch         uint64
	reg           *subscription.Registry
	disp          *dispatch.Dispatcher
	bo            backoff.BackOff
	retry         *time.Timer
	attempts      int
	lastErr       error
	everConnected bool
}

func New(parent context.Context, o Options) *Manager {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		opts:    o,
		base:    log,
		log:     log,
		metrics: o.Metrics,
		inbox:   make(chan msg, 64),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		reg:     subscription.New(log),
	}
	m.metrics.SetState(int(Idle))
	go m.loop()
	return m
}

// Connect starts a session for roomCode. It is a no-op while a session for the
// same room is already active and fails with ErrBusy for any other room.
func (m *Manager) Connect(ctx context.Context, roomCode string, h Handler) error {
	code, err := room.NormalizeCode(roomCode)
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	if !m.post(connectMsg{code: code, h: h, reply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrStopped
	}
}

// Disconnect tears the session down. Teardown failures are logged, never
// returned, and a second call does nothing.
func (m *Manager) Disconnect() {
	reply := make(chan struct{})
	if !m.post(disconnectMsg{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-m.done:
	}
}

func (m *Manager) Status() Snapshot {
	reply := make(chan Snapshot, 1)
	if !m.post(statusMsg{reply: reply}) {
		return Snapshot{State: Closed, Connectivity: Disconnected, At: time.Now()}
	}
	select {
	case s := <-reply:
		return s
	case <-m.done:
		return Snapshot{State: Closed, Connectivity: Disconnected, At: time.Now()}
	}
}

// Post runs fn on the loop. It reports false once the manager has stopped.
// Never call it from the loop itself.
func (m *Manager) Post(fn func()) bool {
	return m.post(task{fn: fn})
}

// Send is best effort: while not connected the payload is dropped with a
// warning.
func (m *Manager) Send(topic string, payload []byte) {
	m.post(sendMsg{topic: topic, payload: payload})
}

// Done is closed once the loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Close disconnects and stops the loop.
func (m *Manager) Close() {
	m.Disconnect()
	m.cancel()
	<-m.done
}

func (m *Manager) post(x msg) bool {
	select {
	case <-m.ctx.Done():
		return false
	default:
	}
	select {
	case m.inbox <- x:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) loop() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.teardown()
			return

		case x := <-m.inbox:
			switch x := x.(type) {
			case connectMsg:
				x.reply <- m.connect(x.code, x.h)

			case disconnectMsg:
				m.teardown()
				close(x.reply)

			case statusMsg:
				x.reply <- m.snapshot()

			case task:
				m.run(x.fn)

			case sendMsg:
				if m.state != Connected || m.conn == nil {
					m.log.Warn("send dropped: not connected", zap.String("topic", x.topic), zap.Stringer("state", m.state))
					break
				}
				m.conn.Send(x.topic, x.payload)

			case opened:
				if m.stale(x.epoch, "opened") || m.state != Connecting {
					break
				}
				m.onOpen()

			case failed:
				if m.stale(x.epoch, "failed") || m.state != Connecting {
					break
				}
				m.lose(x.err)

			case dropped:
				if m.stale(x.epoch, "dropped") || m.state != Connected {
					break
				}
				m.lose(x.err)

			case retryDue:
				if m.stale(x.epoch, "retry") || m.state != Reconnecting {
					break
				}
				m.dial()

			case frame:
				if m.stale(x.epoch, "frame") || m.state != Connected {
					break
				}
				_ = m.disp.Dispatch(x.topic, x.payload)
			}
		}
	}
}

func (m *Manager) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("posted task panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (m *Manager) stale(epoch uint64, what string) bool {
	if epoch == m.epoch {
		return false
	}
	m.log.Debug("dropping stale callback", zap.String("kind", what), zap.Uint64("epoch", epoch), zap.Uint64("current", m.epoch))
	return true
}

func (m *Manager) connect(code string, h Handler) error {
	if m.state.active() {
		if code == m.code {
			m.log.Debug("connect ignored, already active", zap.String("room", code))
			return nil
		}
		return ErrBusy
	}
	if m.state == Closed {
		m.setState(Idle)
	}

	m.code = code
	m.handler = h
	m.log = m.base.With(zap.String("room", code))
	m.reg = subscription.New(m.log)
	m.disp = dispatch.New(m.deliver, m.log, m.metrics)
	m.bo = m.newBackoff()
	m.attempts = 0
	m.lastErr = nil
	m.everConnected = false

	m.dial()
	return nil
}

func (m *Manager) newBackoff() backoff.BackOff {
	if m.opts.Backoff != nil {
		return m.opts.Backoff()
	}
	return backoff.NewConstantBackOff(DefaultRetryDelay)
}

func (m *Manager) deliver(ev types.Event) {
	if m.handler != nil {
		m.handler.HandleEvent(ev)
	}
}

func (m *Manager) dial() {
	m.epoch++
	epoch := m.epoch
	m.conn = m.opts.Adapter.Open(m.opts.URL, transport.Listener{
		OnConnect:    func() { m.post(opened{epoch: epoch}) },
		OnError:      func(err error) { m.post(failed{epoch: epoch, err: err}) },
		OnDisconnect: func(err error) { m.post(dropped{epoch: epoch, err: err}) },
	})
	m.setState(Connecting)
}

func (m *Manager) onOpen() {
	resumed := m.everConnected
	m.everConnected = true
	m.lastErr = nil
	m.bo.Reset()

	onFrame := func(epoch uint64, topic string, payload []byte) {
		m.post(frame{epoch: epoch, topic: topic, payload: payload})
	}
	err := m.reg.Bind(m.conn, m.epoch)
	err = multierr.Append(err, m.reg.Subscribe(room.Topic(m.code), onFrame))
	err = multierr.Append(err, m.reg.Subscribe(room.AdminTopic(m.code), onFrame))
	if err != nil {
		m.lose(&transport.TransportError{Op: "subscribe", URL: m.opts.URL, Err: err})
		return
	}

	m.attempts = 0
	m.setState(Connected)
	if m.handler != nil {
		m.handler.Connected(resumed)
	}
}

// lose moves to RECONNECTING and schedules the next dial.
func (m *Manager) lose(err error) {
	m.reg.Detach()
	if m.conn != nil {
		if cerr := m.conn.Close(); cerr != nil {
			m.log.Debug("closing lost connection", zap.Error(cerr))
		}
		m.conn = nil
	}
	m.epoch++
	m.lastErr = err
	m.attempts++
	m.metrics.Reconnect()

	delay := m.bo.NextBackOff()
	if delay == backoff.Stop {
		delay = DefaultRetryDelay
	}
	m.log.Warn("connection lost, retrying",
		zap.Error(err),
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay),
	)

	epoch := m.epoch
	m.retry = time.AfterFunc(delay, func() { m.post(retryDue{epoch: epoch}) })
	m.setState(Reconnecting)
}

// teardown unsubscribes, closes the transport and lands in CLOSED, in that
// order, whatever fails along the way.
func (m *Manager) teardown() {
	if !m.state.active() {
		return
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}

	errs := m.reg.UnsubscribeAll()
	if m.conn != nil {
		errs = multierr.Append(errs, m.conn.Close())
		m.conn = nil
	}
	for _, err := range multierr.Errors(errs) {
		m.log.Warn("teardown error", zap.Error(err))
	}

	m.epoch++
	m.handler = nil
	m.setState(Closed)
	m.code = ""
}

func (m *Manager) setState(s State) {
	prev := m.state
	m.state = s
	m.metrics.SetState(int(s))
	m.log.Info("session state",
		zap.Stringer("from", prev),
		zap.Stringer("to", s),
		zap.Uint64("epoch", m.epoch),
	)
	if m.opts.OnStatus != nil {
		m.opts.OnStatus(m.snapshot())
	}
}

func (m *Manager) snapshot() Snapshot {
	return Snapshot{
		State:        m.state,
		Connectivity: m.state.Connectivity(),
		RoomCode:     m.code,
		Epoch:        m.epoch,
		Topics:       m.reg.Active(),
		Attempts:     m.attempts,
		LastErr:      m.lastErr,
		At:           time.Now(),
	}
}
