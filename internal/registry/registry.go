package registry

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound indicates no backend is registered for a subdomain.
var ErrNotFound = errors.New("registry: subdomain not registered")

// Store maps subdomains to backend addresses. Writes are last-write-wins per
// key; entries are never expired in-band (a new deployment overwrites in
// place, decommissioned projects leave a stale route behind).
type Store interface {
	Put(ctx context.Context, subdomain, address string) error
	Get(ctx context.Context, subdomain string) (string, error)
}

// NormalizeKey lowercases a subdomain so lookups are case-insensitive.
// Returns an empty string for values that cannot be a DNS label.
func NormalizeKey(subdomain string) string {
	trimmed := strings.ToLower(strings.TrimSpace(subdomain))
	if trimmed == "" || strings.ContainsAny(trimmed, "./: ") {
		return ""
	}
	return trimmed
}
