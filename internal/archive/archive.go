package archive

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("archive: not found")

// Decision log actions recorded when an operator acts on an alert.
const (
	ActionFixApplied = "fix_applied"
	ActionFixFailed  = "fix_failed"
	ActionFixIgnored = "fix_ignored"
)

// Decision is one append-only remediation record for a project.
type Decision struct {
	ID        int64
	ProjectID string
	Action    string
	CreatedAt time.Time
}

// Flush is one persisted telemetry window: the JSON-serialized array of
// events drained from a project's buffer during a monitor cycle.
type Flush struct {
	ID        string
	ProjectID string
	FlushedAt time.Time
	Events    []byte
}

// FlushRepository persists drained telemetry windows.
type FlushRepository interface {
	InsertFlush(ctx context.Context, flush *Flush) error
	ListFlushesByProject(ctx context.Context, projectID string, limit int) ([]Flush, error)
}

// DecisionRepository persists the per-project remediation decision log.
type DecisionRepository interface {
	AppendDecision(ctx context.Context, decision *Decision) error
	ListDecisionsByProject(ctx context.Context, projectID string, limit int) ([]Decision, error)
}
