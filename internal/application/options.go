package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/peer-scheduler/internal/feed"
	"github.com/example/peer-scheduler/internal/metrics"
)

// Option configures the shared dependencies of a service.
type Option func(*serviceOptions)

type serviceOptions struct {
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
	publisher   feed.Publisher
}

// WithIDGenerator overrides the identifier source. Defaults to random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(o *serviceOptions) {
		if fn != nil {
			o.idGenerator = fn
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithMetrics records service outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *serviceOptions) {
		o.metrics = m
	}
}

// WithPublisher sets where change-feed events go.
func WithPublisher(p feed.Publisher) Option {
	return func(o *serviceOptions) {
		if p != nil {
			o.publisher = p
		}
	}
}

func newServiceOptions(opts []Option) serviceOptions {
	o := serviceOptions{
		idGenerator: uuid.NewString,
		now:         time.Now,
		publisher:   discardPublisher{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = defaultLogger(o.logger)
	return o
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, feed.Event) {}

// publish encodes and publishes an event. Encoding failures are logged and
// dropped: the feed is a notification path and the write already succeeded.
func (o serviceOptions) publish(ctx context.Context, logger *slog.Logger, key, eventType, id string, deleted bool, payload any) {
	ev, err := feed.NewEvent(key, eventType, id, payload)
	if err != nil {
		logger.WarnContext(ctx, "failed to encode feed event", "event_type", eventType, "error", err)
		return
	}
	ev.Deleted = deleted
	o.publisher.Publish(ctx, ev)
}
