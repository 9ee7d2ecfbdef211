package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Publisher delivers events to subscribers of their key.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// DropObserver is told when a subscriber misses an event.
type DropObserver func(key string)

// Broker fans events out to subscriptions by key. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the event and is
// flagged lagged, and must refetch state.
type Broker struct {
	mu         sync.RWMutex
	subs       map[string]map[uint64]*Subscription
	nextID     uint64
	seq        atomic.Uint64
	bufferSize int
	closed     bool
	now        func() time.Time
	logger     *slog.Logger
	onDrop     DropObserver
}

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize sets the per-subscription channel capacity.
func WithBufferSize(size int) Option {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithLogger sets the broker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithDropObserver registers a callback for dropped events.
func WithDropObserver(fn DropObserver) Option {
	return func(b *Broker) {
		b.onDrop = fn
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:       make(map[string]map[uint64]*Subscription),
		bufferSize: 64,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "feed")
	return b
}

// Subscribe registers interest in key. The returned subscription must be
// released with Unsubscribe. Subscribing to a closed broker yields an already
// closed subscription.
func (b *Broker) Subscribe(key string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		key:    key,
		ch:     make(chan Event, b.bufferSize),
		broker: b,
	}
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	byID, ok := b.subs[key]
	if !ok {
		byID = make(map[uint64]*Subscription)
		b.subs[key] = byID
	}
	byID[sub.id] = sub
	return sub
}

// Publish stamps ev with a sequence number and time and delivers it to every
// subscriber of ev.Key.
func (b *Broker) Publish(ctx context.Context, ev Event) {
	ev.Seq = b.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = b.now().UTC()
	}

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[ev.Key] {
		select {
		case sub.ch <- ev:
		default:
			sub.lagged.Store(true)
			if b.onDrop != nil {
				b.onDrop(ev.Key)
			}
			b.logger.WarnContext(ctx, "dropped event for slow subscriber",
				"key", ev.Key, "type", ev.Type, "subscription", sub.id)
		}
	}
}

// SubscriberCount returns the number of live subscriptions on key.
func (b *Broker) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

// Close ends every subscription. Later publishes are discarded.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, byID := range b.subs {
		for _, sub := range byID {
			sub.closed = true
			close(sub.ch)
		}
		delete(b.subs, key)
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)

	if byID, ok := b.subs[sub.key]; ok {
		delete(byID, sub.id)
		if len(byID) == 0 {
			delete(b.subs, sub.key)
		}
	}
}

// Subscription receives the events of one key.
type Subscription struct {
	id     uint64
	key    string
	ch     chan Event
	broker *Broker
	lagged atomic.Bool
	// closed is guarded by broker.mu.
	closed bool
}

// Key returns the subscribed key.
func (s *Subscription) Key() string { return s.key }

// Events returns the delivery channel. It is closed by Unsubscribe or when
// the broker closes.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Lagged reports whether any event was dropped for this subscriber.
func (s *Subscription) Lagged() bool { return s.lagged.Load() }

// ResetLagged clears the lagged flag after the subscriber has refetched.
func (s *Subscription) ResetLagged() { s.lagged.Store(false) }

// Unsubscribe releases the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.broker.remove(s)
}
