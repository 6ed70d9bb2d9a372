package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"go.uber.org/zap"
)

const (
	defaultHeartBeat    = 4 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultCloseTimeout = 2 * time.Second
)

// STOMP speaks STOMP 1.2 over whatever stream Dial returns, websocket by
// default.
type STOMP struct {
	Dial         Dialer
	Host         string
	HeartBeat    time.Duration
	DialTimeout  time.Duration
	CloseTimeout time.Duration
	Logger       *zap.Logger
}

func (a *STOMP) withDefaults() STOMP {
	o := *a
	if o.Dial == nil {
		o.Dial = WebSocketDialer(nil)
	}
	if o.HeartBeat == 0 {
		o.HeartBeat = defaultHeartBeat
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.CloseTimeout == 0 {
		o.CloseTimeout = defaultCloseTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (a *STOMP) Open(url string, l Listener) Conn {
	opts := a.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &stompConn{
		url:    url,
		opts:   opts,
		log:    opts.Logger.With(zap.String("url", url)),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.dial(l)
	return c
}

type phase int

const (
	phaseDialing phase = iota
	phaseOpen
	phaseLost
	phaseClosed
)

type stompConn struct {
	url    string
	opts   STOMP
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	phase phase
	rwc   *watchedConn
	conn  *stomp.Conn
}

func (c *stompConn) dial(l Listener) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()

	rwc, err := c.opts.Dial(ctx, c.url)
	if err != nil {
		l.fail(&TransportError{Op: "dial", URL: c.url, Err: err})
		return
	}
	w := newWatchedConn(rwc)

	// stomp.Connect has no context; closing the stream unblocks it.
	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	sc, err := stomp.Connect(w, c.connectOpts()...)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = w.Close()
		if c.ctx.Err() != nil {
			err = ErrClosed
		}
		l.fail(&TransportError{Op: "connect", URL: c.url, Err: err})
		return
	}

	c.mu.Lock()
	if c.phase == phaseClosed {
		c.mu.Unlock()
		_ = w.Close()
		l.fail(&TransportError{Op: "connect", URL: c.url, Err: ErrClosed})
		return
	}
	c.phase = phaseOpen
	c.rwc = w
	c.conn = sc
	c.mu.Unlock()

	c.log.Debug("stomp connected", zap.String("server", sc.Server()), zap.String("version", string(sc.Version())))
	l.connect()
	go c.watch(w, l)
}

func (c *stompConn) connectOpts() []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(c.opts.HeartBeat, c.opts.HeartBeat),
	}
	if c.opts.Host != "" {
		opts = append(opts, stomp.ConnOpt.Host(c.opts.Host))
	}
	return opts
}

func (c *stompConn) watch(w *watchedConn, l Listener) {
	<-w.lost

	c.mu.Lock()
	wasOpen := c.phase == phaseOpen
	if wasOpen {
		c.phase = phaseLost
	}
	c.mu.Unlock()

	if wasOpen {
		c.log.Warn("stomp connection lost", zap.Error(w.readErr))
		l.disconnect(&TransportError{Op: "read", URL: c.url, Err: w.readErr})
	}
}

func (c *stompConn) live() (*stomp.Conn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.phase == phaseOpen
}

func (c *stompConn) Send(topic string, payload []byte) {
	sc, ok := c.live()
	if !ok {
		c.log.Warn("send dropped: not connected", zap.String("topic", topic))
		return
	}
	if err := sc.Send(topic, "application/json", payload); err != nil {
		c.log.Warn("send failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *stompConn) Subscribe(topic string, deliver func(payload []byte)) (Subscription, error) {
	sc, ok := c.live()
	if !ok {
		return nil, ErrNotConnected
	}
	sub, err := sc.Subscribe(topic, stomp.AckAuto)
	if err != nil {
		return nil, &TransportError{Op: "subscribe", URL: c.url, Err: err}
	}
	go c.pump(topic, sub, deliver)
	return &stompSub{sub: sub, timeout: c.opts.CloseTimeout}, nil
}

func (c *stompConn) pump(topic string, sub *stomp.Subscription, deliver func(payload []byte)) {
	for msg := range sub.C {
		if msg.Err != nil {
			c.log.Debug("subscription ended", zap.String("topic", topic), zap.Error(msg.Err))
			continue
		}
		deliver(msg.Body)
	}
}

func (c *stompConn) Close() error {
	c.mu.Lock()
	if c.phase == phaseClosed {
		c.mu.Unlock()
		return nil
	}
	prev := c.phase
	c.phase = phaseClosed
	sc, w := c.conn, c.rwc
	c.conn = nil
	c.mu.Unlock()

	c.cancel()

	switch prev {
	case phaseOpen:
		return c.disconnect(sc, w)
	case phaseLost:
		_ = w.Close()
	}
	return nil
}

// disconnect sends DISCONNECT and waits a bounded time for the receipt before
// dropping the stream.
func (c *stompConn) disconnect(sc *stomp.Conn, w *watchedConn) error {
	done := make(chan error, 1)
	go func() { done <- sc.Disconnect() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(c.opts.CloseTimeout):
		err = ErrCloseTimeout
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &TransportError{Op: "close", URL: c.url, Err: err}
	}
	return nil
}

type stompSub struct {
	sub     *stomp.Subscription
	timeout time.Duration
	once    sync.Once
	err     error
}

// Unsubscribe waits for the server receipt, but never longer than timeout.
func (s *stompSub) Unsubscribe() error {
	s.once.Do(func() {
		done := make(chan error, 1)
		go func() { done <- s.sub.Unsubscribe() }()
		select {
		case s.err = <-done:
		case <-time.After(s.timeout):
			s.err = ErrCloseTimeout
		}
	})
	return s.err
}

// watchedConn reports the first read failure of the underlying stream, which
// is how a dropped connection surfaces.
type watchedConn struct {
	io.ReadWriteCloser
	lost      chan struct{}
	readErr   error
	lostOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newWatchedConn(rwc io.ReadWriteCloser) *watchedConn {
	return &watchedConn{ReadWriteCloser: rwc, lost: make(chan struct{})}
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.ReadWriteCloser.Read(p)
	if err != nil {
		w.lostOnce.Do(func() {
			w.readErr = err
			close(w.lost)
		})
	}
	return n, err
}

func (w *watchedConn) Close() error {
	w.closeOnce.Do(func() { w.closeErr = w.ReadWriteCloser.Close() })
	return w.closeErr
}
