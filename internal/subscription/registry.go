// Package subscription tracks which topics a session wants and which of them
// are live on the current connection.
//
// A Registry is not safe for concurrent use; it belongs to the session loop.
package subscription

import (
	"slices"

	"github.com/DoyleJ11/truthdare-live/internal/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Handler receives frames for a topic, tagged with the connection epoch the
// subscription was made on. It runs on a transport goroutine.
type Handler func(epoch uint64, topic string, payload []byte)

type Registry struct {
	log *zap.Logger

	conn  transport.Conn
	epoch uint64

	order    []string // first-request order, survives reconnects
	handlers map[string]Handler
	active   map[string]transport.Subscription
}

func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:      log,
		handlers: make(map[string]Handler),
		active:   make(map[string]transport.Subscription),
	}
}

// Bind attaches a fresh connection and re-subscribes every requested topic in
// the order they were first requested.
func (r *Registry) Bind(conn transport.Conn, epoch uint64) error {
	r.Detach()
	r.conn = conn
	r.epoch = epoch

	var errs error
	for _, topic := range r.order {
		errs = multierr.Append(errs, r.attach(topic))
	}
	return errs
}

// Subscribe records topic and subscribes on the bound connection. Repeating it
// for a topic already live on this epoch does nothing. The first handler given
// for a topic is kept until UnsubscribeAll.
func (r *Registry) Subscribe(topic string, h Handler) error {
	if _, ok := r.handlers[topic]; !ok {
		r.order = append(r.order, topic)
		r.handlers[topic] = h
	}

	if _, live := r.active[topic]; live {
		return nil
	}
	if r.conn == nil {
		return nil
	}
	return r.attach(topic)
}

func (r *Registry) attach(topic string) error {
	h := r.handlers[topic]
	epoch := r.epoch
	sub, err := r.conn.Subscribe(topic, func(payload []byte) { h(epoch, topic, payload) })
	if err != nil {
		return err
	}
	r.active[topic] = sub
	r.log.Debug("subscribed", zap.String("topic", topic), zap.Uint64("epoch", epoch))
	return nil
}

// Detach forgets the live subscriptions of a lost connection. The requested
// topic set is kept for the next Bind.
func (r *Registry) Detach() {
	clear(r.active)
	r.conn = nil
}

// UnsubscribeAll releases every live subscription and forgets every requested
// topic. It is fine to call on an empty registry.
func (r *Registry) UnsubscribeAll() error {
	var errs error
	for _, topic := range r.order {
		sub, ok := r.active[topic]
		if !ok {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	clear(r.active)
	clear(r.handlers)
	r.order = nil
	r.conn = nil
	return errs
}

// Topics returns the requested topics in first-request order.
func (r *Registry) Topics() []string { return slices.Clone(r.order) }

// Active returns the topics live on the bound connection.
func (r *Registry) Active() []string {
	out := make([]string, 0, len(r.active))
	for _, topic := range r.order {
		if _, ok := r.active[topic]; ok {
			out = append(out, topic)
		}
	}
	return out
}

func (r *Registry) Epoch() uint64 { return r.epoch }
