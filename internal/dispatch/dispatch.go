package dispatch

import (
	"fmt"

	"github.com/DoyleJ11/truthdare-live/internal/metrics"
	"github.com/DoyleJ11/truthdare-live/internal/types"
	"go.uber.org/zap"
)

type Handler func(ev types.Event)

// Dispatcher decodes raw frames and hands each event to a single handler.
// Bad frames and handler panics are logged and swallowed so the next frame
// is still delivered.
type Dispatcher struct {
	handler Handler
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(h Handler, log *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{handler: h, log: log, metrics: m}
}

// Dispatch returns the decode or handler error for callers that want it; it
// never panics.
func (d *Dispatcher) Dispatch(topic string, payload []byte) (err error) {
	ev, err := types.Decode(payload)
	if err != nil {
		d.metrics.DecodeError()
		d.log.Warn("dropping malformed frame",
			zap.String("topic", topic),
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return err
	}
	ev.Topic = topic
	d.metrics.Event(string(ev.Type))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on %s: %v", ev.Type, r)
			d.log.Error("event handler panicked",
				zap.String("topic", topic),
				zap.String("event", string(ev.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	d.handler(ev)
	return nil
}
