// Package transporttest provides a scripted transport.Adapter for tests.
package transporttest

import (
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/truthdare-live/internal/transport"
)

// Adapter records every Open call; tests drive each Conn by hand.
type Adapter struct {
	mu     sync.Mutex
	conns  []*Conn
	opened chan *Conn

	// AutoAccept makes every new Conn report a successful handshake.
	AutoAccept bool
}

func NewAdapter() *Adapter {
	return &Adapter{opened: make(chan *Conn, 64)}
}

func (a *Adapter) Open(url string, l transport.Listener) transport.Conn {
	c := &Conn{URL: url, l: l, subs: make(map[string]*sub)}
	a.mu.Lock()
	a.conns = append(a.conns, c)
	auto := a.AutoAccept
	a.mu.Unlock()

	a.opened <- c
	if auto {
		go c.Accept()
	}
	return c
}

// Next returns the next opened Conn, failing the test if none shows up.
func (a *Adapter) Next(t testing.TB, within time.Duration) *Conn {
	t.Helper()
	select {
	case c := <-a.opened:
		return c
	case <-time.After(within):
		t.Fatalf("timed out waiting for transport open")
		return nil
	}
}

// Opens is the number of Open calls so far.
func (a *Adapter) Opens() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// Live counts connections that are up and not closed.
func (a *Adapter) Live() int {
	a.mu.Lock()
	conns := append([]*Conn(nil), a.conns...)
	a.mu.Unlock()

	n := 0
	for _, c := range conns {
		if c.Connected() {
			n++
		}
	}
	return n
}

type Message struct {
	Topic   string
	Payload []byte
}

type sub struct {
	deliver func([]byte)
	conn    *Conn
	topic   string
}

func (s *sub) Unsubscribe() error {
	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs[s.topic] == s {
		delete(c.subs, s.topic)
	}
	c.unsubscribed = append(c.unsubscribed, s.topic)
	return c.UnsubscribeErr
}

// Conn is a fake connection. The exported error fields inject failures.
type Conn struct {
	URL string

	SubscribeErr   error
	UnsubscribeErr error
	CloseErr       error

	mu           sync.Mutex
	l            transport.Listener
	connected    bool
	closed       bool
	dropped      bool
	subs         map[string]*sub
	subscribed   []string
	unsubscribed []string
	sent         []Message
	closes       int
}

// Accept completes the handshake.
func (c *Conn) Accept() {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.mu.Unlock()
	if c.l.OnConnect != nil {
		c.l.OnConnect()
	}
}

// Fail reports a failed handshake.
func (c *Conn) Fail(err error) {
	if c.l.OnError != nil {
		c.l.OnError(err)
	}
}

// Drop simulates the server going away after a successful connect.
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	if !c.connected || c.dropped {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.dropped = true
	c.subs = make(map[string]*sub)
	c.mu.Unlock()
	if c.l.OnDisconnect != nil {
		c.l.OnDisconnect(err)
	}
}

// Deliver hands payload to the live subscription for topic, if any.
func (c *Conn) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	s, ok := c.subs[topic]
	c.mu.Unlock()
	if !ok {
		return false
	}
	s.deliver(payload)
	return true
}

func (c *Conn) Send(topic string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	c.sent = append(c.sent, Message{Topic: topic, Payload: payload})
}

func (c *Conn) Subscribe(topic string, deliver func(payload []byte)) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, transport.ErrNotConnected
	}
	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	s := &sub{deliver: deliver, conn: c, topic: topic}
	c.subs[topic] = s
	c.subscribed = append(c.subscribed, topic)
	return s, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	c.subs = make(map[string]*sub)
	return c.CloseErr
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribed lists every Subscribe call in order.
func (c *Conn) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.subscribed...)
}

func (c *Conn) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

func (c *Conn) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.sent...)
}
