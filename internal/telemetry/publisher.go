package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

const defaultSampleInterval = 3 * time.Second

// Transport publishes an opaque payload to a named channel. Satisfied by the
// Redis client in production and by stubs in tests.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type redisTransport struct {
	client *redis.Client
}

// NewRedisTransport connects a publish-only Redis transport.
func NewRedisTransport(addr, password string, db int) (Transport, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("telemetry redis ping: %w", err)
	}
	return &redisTransport{client: client}, nil
}

func (t *redisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

// Publisher samples resource usage and log tails on a fixed interval and
// publishes one Event per tick. Delivery is at-most-once by design: a failed
// publish is logged and dropped, the next tick samples fresh.
type Publisher struct {
	projectID     string
	channelPrefix string
	interval      time.Duration
	sampler       Sampler
	tail          func() string
	transport     Transport
	logger        *slog.Logger
	now           func() time.Time
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	ProjectID     string
	ChannelPrefix string
	Interval      time.Duration
	Sampler       Sampler
	LogPath       string
	LogTailLines  int
	Transport     Transport
	Logger        *slog.Logger
}

// NewPublisher validates options and builds a Publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	projectID := strings.TrimSpace(opts.ProjectID)
	if projectID == "" {
		return nil, errors.New("telemetry publisher requires a project id")
	}
	if opts.Transport == nil {
		return nil, errors.New("telemetry publisher requires a transport")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	sampler := opts.Sampler
	if sampler == nil {
		sampler = NewProcessSampler()
	}
	prefix := opts.ChannelPrefix
	if prefix == "" {
		prefix = "logs:"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tailLines := opts.LogTailLines
	if tailLines <= 0 {
		tailLines = 20
	}
	logPath := opts.LogPath
	return &Publisher{
		projectID:     projectID,
		channelPrefix: prefix,
		interval:      interval,
		sampler:       sampler,
		tail:          func() string { return TailFile(logPath, tailLines) },
		transport:     opts.Transport,
		logger:        logger.With("component", "telemetry", "project_id", projectID),
		now:           time.Now,
	}, nil
}

// Run publishes until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("telemetry publisher started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("telemetry publisher stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Publisher) tick(ctx context.Context) {
	payload, err := p.buildEvent().Marshal()
	if err != nil {
		p.logger.Warn("failed to marshal telemetry event", "error", err)
		return
	}
	channel := p.channelPrefix + p.projectID
	if err := p.transport.Publish(ctx, channel, payload); err != nil {
		p.logger.Warn("telemetry publish failed", "channel", channel, "error", err)
	}
}

func (p *Publisher) buildEvent() Event {
	sample := p.sampler.Sample()
	return Event{
		Timestamp: p.now().UnixMilli(),
		ProjectID: p.projectID,
		CPU:       sample.CPU,
		Memory:    sample.Memory,
		Logs:      p.tail(),
	}
}
