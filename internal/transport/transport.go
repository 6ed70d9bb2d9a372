// Package transport opens the push connection to the room server.
//
// Open never fails synchronously. The handshake runs in the background and
// reports back through exactly one of Listener.OnConnect or Listener.OnError;
// a connection that was up reports its unexpected loss through at most one
// Listener.OnDisconnect. Listener callbacks run on transport goroutines, so
// receivers must hand them off to their own loop.
package transport

import (
	"errors"
)

var ErrNotConnected = errors.New("transport not connected")
var ErrClosed = errors.New("transport closed")
var ErrCloseTimeout = errors.New("transport close timed out")

type Listener struct {
	OnConnect    func()
	OnError      func(err error)
	OnDisconnect func(err error)
}

func (l Listener) connect() {
	if l.OnConnect != nil {
		l.OnConnect()
	}
}

func (l Listener) fail(err error) {
	if l.OnError != nil {
		l.OnError(err)
	}
}

func (l Listener) disconnect(err error) {
	if l.OnDisconnect != nil {
		l.OnDisconnect(err)
	}
}

type Subscription interface {
	Unsubscribe() error
}

// Conn is one underlying bidirectional message connection.
type Conn interface {
	// Send is best effort: while not connected it only logs a warning.
	Send(topic string, payload []byte)
	// Subscribe delivers each frame body for topic, in server order, on a
	// goroutine owned by the connection.
	Subscribe(topic string, deliver func(payload []byte)) (Subscription, error)
	// Close is idempotent and safe on a connection that never came up.
	Close() error
}

type Adapter interface {
	Open(url string, l Listener) Conn
}

// TransportError wraps a dial, handshake, read or close failure.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + " " + e.URL + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }
