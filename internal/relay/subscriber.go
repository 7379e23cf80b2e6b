package relay

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/subfold/subfold/internal/telemetry"
)

const (
	defaultMaxRetries = 10
	defaultBackoff    = 500 * time.Millisecond
	defaultBackoffMax = 30 * time.Second
)

// Subscriber consumes the wildcard telemetry pattern from Redis and fans each
// message out to the hub and the telemetry buffer. Payloads are forwarded
// verbatim; nothing here re-parses producer JSON.
type Subscriber struct {
	client     *redis.Client
	pattern    string
	hub        *Hub
	buffers    *telemetry.BufferStore
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
	backoffMax time.Duration
	connected  atomic.Bool
}

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	Client     *redis.Client
	Pattern    string
	Hub        *Hub
	Buffers    *telemetry.BufferStore
	Logger     *slog.Logger
	MaxRetries int
	Backoff    time.Duration
	BackoffMax time.Duration
}

// NewSubscriber wires a pattern subscription consumer.
func NewSubscriber(opts SubscriberOptions) *Subscriber {
	pattern := opts.Pattern
	if pattern == "" {
		pattern = "logs:*"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	backoffMax := opts.BackoffMax
	if backoffMax < backoff {
		backoffMax = defaultBackoffMax
	}
	return &Subscriber{
		client:     opts.Client,
		pattern:    pattern,
		hub:        opts.Hub,
		buffers:    opts.Buffers,
		logger:     logger.With("component", "relay_subscriber"),
		maxRetries: maxRetries,
		backoff:    backoff,
		backoffMax: backoffMax,
	}
}

// Connected reports whether the upstream subscription is currently live.
// Exhausted retries leave this false so /healthz can surface the outage.
func (s *Subscriber) Connected() bool {
	return s.connected.Load()
}

// Run consumes the pattern subscription until the context is cancelled or the
// retry budget is exhausted. Missed messages during reconnects are not
// replayed; dashboards are a live tail, not an audit trail.
func (s *Subscriber) Run(ctx context.Context) {
	retries := 0
	for {
		err := s.consume(ctx, &retries)
		if ctx.Err() != nil {
			s.logger.Info("subscriber stopped")
			return
		}
		retries++
		if retries > s.maxRetries {
			s.logger.Error("subscription retry budget exhausted, giving up", "retries", retries-1)
			return
		}
		wait := s.backoffFor(retries)
		s.logger.Warn("subscription dropped, reconnecting", "error", err, "attempt", retries, "backoff", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, retries *int) error {
	pubsub := s.client.PSubscribe(ctx, s.pattern)
	defer pubsub.Close()

	// Confirm the subscription before reporting healthy.
	if _, err := pubsub.Receive(ctx); err != nil {
		s.connected.Store(false)
		return err
	}
	s.connected.Store(true)
	s.logger.Info("subscribed", "pattern", s.pattern)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.connected.Store(false)
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				s.connected.Store(false)
				return errors.New("pubsub channel closed")
			}
			*retries = 0
			s.dispatch(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) dispatch(channel string, payload []byte) {
	projectID := ProjectIDFromChannel(channel)
	if projectID == "" {
		s.logger.Warn("message on unroutable channel", "channel", channel)
		return
	}
	if s.buffers != nil {
		s.buffers.Append(projectID, payload)
	}
	if s.hub != nil {
		s.hub.Broadcast(projectID, payload)
	}
	recordMessageRelayed()
}

func (s *Subscriber) backoffFor(attempt int) time.Duration {
	wait := s.backoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= s.backoffMax {
			return s.backoffMax
		}
	}
	if wait > s.backoffMax {
		wait = s.backoffMax
	}
	return wait
}

// ProjectIDFromChannel extracts the project id from a telemetry channel name
// such as "logs:proj-1".
func ProjectIDFromChannel(channel string) string {
	_, id, found := strings.Cut(channel, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(id)
}
