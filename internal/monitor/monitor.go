package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/subfold/subfold/internal/archive"
	"github.com/subfold/subfold/internal/backend"
	"github.com/subfold/subfold/internal/telemetry"
)

// DefaultInterval is how often a flush cycle runs.
const DefaultInterval = 30 * time.Minute

// Monitor periodically evaluates every project with buffered telemetry:
// probes backend liveness, alerts on failure, and always persists and
// clears the buffered window so memory stays bounded.
type Monitor struct {
	buffers      *telemetry.BufferStore
	prober       backend.Prober
	alerter      Alerter
	flushes      archive.FlushRepository
	log          *slog.Logger
	interval     time.Duration
	probeTimeout time.Duration
	now          func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// Options configures a Monitor.
type Options struct {
	Buffers      *telemetry.BufferStore
	Prober       backend.Prober
	Alerter      Alerter
	Flushes      archive.FlushRepository
	Logger       *slog.Logger
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// New validates options and returns a Monitor.
func New(opts Options) (*Monitor, error) {
	if opts.Buffers == nil {
		return nil, errors.New("monitor requires a buffer store")
	}
	if opts.Prober == nil {
		return nil, errors.New("monitor requires a reachability prober")
	}
	if opts.Alerter == nil {
		return nil, errors.New("monitor requires an alerter")
	}
	if opts.Flushes == nil {
		return nil, errors.New("monitor requires a flush repository")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	return &Monitor{
		buffers:      opts.Buffers,
		prober:       opts.Prober,
		alerter:      opts.Alerter,
		flushes:      opts.Flushes,
		log:          opts.Logger,
		interval:     opts.Interval,
		probeTimeout: opts.ProbeTimeout,
		now:          time.Now,
		inFlight:     make(map[string]bool),
	}, nil
}

// Run executes flush cycles on the configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("health monitor started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			m.log.Info("health monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every project that currently holds buffered
// telemetry. A project still being evaluated from a previous cycle is
// skipped rather than evaluated concurrently.
func (m *Monitor) RunCycle(ctx context.Context) {
	for _, projectID := range m.buffers.Projects() {
		if !m.acquire(projectID) {
			m.log.Warn("skipping project, previous evaluation still running", "project_id", projectID)
			continue
		}
		m.evaluateProject(ctx, projectID)
		m.release(projectID)
	}
}

func (m *Monitor) evaluateProject(ctx context.Context, projectID string) {
	events := m.buffers.Drain(projectID)
	if len(events) == 0 {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	reachable := m.prober.IsReachable(probeCtx, projectID)
	cancel()

	if !reachable {
		verdict := Classify(latestLogText(events))
		alert := Alert{
			ProjectID:  projectID,
			Reason:     verdict.Reason,
			Suggestion: verdict.Suggestion,
			DetectedAt: m.now().UTC(),
		}
		if err := m.alerter.SendAlert(ctx, alert); err != nil {
			m.log.Error("failed to send alert", "project_id", projectID, "error", err)
		} else {
			m.log.Info("alert dispatched", "project_id", projectID, "reason", verdict.Reason)
		}
	}

	flush := &archive.Flush{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		FlushedAt: m.now().UTC(),
		Events:    joinEvents(events),
	}
	if err := m.flushes.InsertFlush(ctx, flush); err != nil {
		// Put the window back so the next cycle retries instead of
		// dropping up to thirty minutes of telemetry.
		m.buffers.Requeue(projectID, events)
		m.log.Error("failed to persist telemetry window, requeued", "project_id", projectID,
			"events", len(events), "error", err)
		return
	}
	m.log.Info("telemetry window flushed", "project_id", projectID, "events", len(events))
}

func (m *Monitor) acquire(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[projectID] {
		return false
	}
	m.inFlight[projectID] = true
	return true
}

func (m *Monitor) release(projectID string) {
	m.mu.Lock()
	delete(m.inFlight, projectID)
	m.mu.Unlock()
}

// latestLogText extracts the log text of the newest buffered event.
// Payloads that fail to parse classify as empty text.
func latestLogText(events [][]byte) string {
	event, err := telemetry.ParseEvent(events[len(events)-1])
	if err != nil {
		return ""
	}
	return event.Logs
}

// joinEvents assembles the already-serialized event payloads into one JSON
// array. Payloads arrive verbatim from producers, so anything that is not
// valid JSON is skipped rather than corrupting the whole array.
func joinEvents(events [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for _, event := range events {
		if !json.Valid(event) {
			continue
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(event)
		n++
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
