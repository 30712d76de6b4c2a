package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-delivery/internal/channel"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
)

// Publisher delivers a payload to everyone on a channel. Publishing to a
// channel nobody listens on is not an error.
type Publisher interface {
	Publish(ctx context.Context, key channel.Key, payload []byte) error
}

// Sink receives every event in addition to the channel fan-out.
type Sink interface {
	Consume(ctx context.Context, event Event) error
}

type Metrics interface {
	ObservePublish(channelKind, result string)
	ObserveDropped()
}

type Event struct {
	Type       order.EventType `json:"type"`
	Order      *order.Order    `json:"order"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type Option func(*Router)

func WithSink(s Sink) Option {
	return func(r *Router) { r.sinks = append(r.sinks, s) }
}

func WithMetrics(m Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func WithPublishTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// Router fans committed order changes out to channels. OrderChanged only
// enqueues; a single worker publishes in FIFO order, so events for one
// channel keep their commit order.
type Router struct {
	publisher Publisher
	sinks     []Sink
	metrics   Metrics
	timeout   time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool
	queue   chan Event
	done   chan struct{}
}

func NewRouter(publisher Publisher, queueSize int, opts ...Option) *Router {
	r := &Router{
		publisher: publisher,
		metrics:   nopMetrics{},
		timeout:   5 * time.Second,
		queue:     make(chan Event, queueSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type nopMetrics struct{}

func (nopMetrics) ObservePublish(string, string) {}
func (nopMetrics) ObserveDropped()               {}

// OrderChanged never blocks. When the queue is full the event is dropped.
func (r *Router) OrderChanged(o *order.Order, event order.EventType) {
	ev := Event{Type: event, Order: o, OccurredAt: time.Now().UTC()}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ev, "router closed")
		return
	}

	select {
	case r.queue <- ev:
	default:
		r.drop(ev, "queue full")
	}
}

func (r *Router) drop(ev Event, reason string) {
	r.metrics.ObserveDropped()
	log.Warn().Stringer("order_id", ev.Order.ID).Stringer("event", ev.Type).Str("reason", reason).Msg("notify: event dropped")
}

// Start runs the worker until Close drains the queue. Only the first call
// has an effect, and none after Close.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	go func() {
		defer close(r.done)
		for ev := range r.queue {
			r.dispatch(ctx, ev)
		}
	}()
}

// Close stops accepting events and waits for queued ones to be published.
// Events queued on a router that was never started are dropped.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
		if !r.started {
			for ev := range r.queue {
				r.drop(ev, "router not started")
			}
			close(r.done)
		}
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) dispatch(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", ev.Order.ID).Msg("notify: failed to marshal event")
		return
	}

	for _, key := range ChannelsFor(ev.Order) {
		r.publish(ctx, key, payload, ev)
	}

	for _, sink := range r.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := sink.Consume(sinkCtx, ev); err != nil {
			log.Warn().Err(err).Stringer("order_id", ev.Order.ID).Msg("notify: sink rejected event")
		}
		cancel()
	}
}

func (r *Router) publish(ctx context.Context, key channel.Key, payload []byte, ev Event) {
	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.publisher.Publish(pubCtx, key, payload); err != nil {
		r.metrics.ObservePublish(key.Kind(), "error")
		log.Warn().Err(err).Stringer("order_id", ev.Order.ID).Stringer("channel", key).Msg("notify: publish failed")
		return
	}
	r.metrics.ObservePublish(key.Kind(), "ok")
}
