// Package backend inspects and controls the containers that run project
// workloads. The monitor probes reachability through it and the relay's
// remediation endpoint restarts containers and re-reads their published
// address.
package backend

import "context"

// Prober reports whether a project's container is up and serving.
type Prober interface {
	IsReachable(ctx context.Context, projectID string) bool
}

// Restarter restarts a project's container and exposes its published
// address after the restart.
type Restarter interface {
	Restart(ctx context.Context, projectID string) error
	Address(ctx context.Context, projectID string) (string, error)
}
