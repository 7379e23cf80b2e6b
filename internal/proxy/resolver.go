package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/subfold/subfold/internal/registry"
)

// ErrNoRoute indicates the subdomain has no registered backend. It is kept
// distinct from transport errors so handlers can tell "no such site" apart
// from an infrastructure outage.
var ErrNoRoute = errors.New("proxy: no route for subdomain")

// Resolver turns a subdomain into a proxy target.
type Resolver interface {
	Resolve(ctx context.Context, subdomain string) (*url.URL, error)
}

// StaticResolver maps every subdomain onto a fixed artifact-store base URL.
// No registry lookup is involved.
type StaticResolver struct {
	base *url.URL
}

// NewStaticResolver validates and parses the artifact-store base URL.
func NewStaticResolver(baseURL string) (*StaticResolver, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("static resolver requires a base url")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse static base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("static base url %q must be absolute", baseURL)
	}
	return &StaticResolver{base: parsed}, nil
}

func (r *StaticResolver) Resolve(_ context.Context, subdomain string) (*url.URL, error) {
	key := registry.NormalizeKey(subdomain)
	if key == "" {
		return nil, ErrNoRoute
	}
	target := *r.base
	target.Path = strings.TrimRight(target.Path, "/") + "/" + key
	return &target, nil
}

// RegistryResolver resolves subdomains against the shared backend registry.
type RegistryResolver struct {
	store registry.Store
}

// NewRegistryResolver wraps a registry store.
func NewRegistryResolver(store registry.Store) *RegistryResolver {
	return &RegistryResolver{store: store}
}

func (r *RegistryResolver) Resolve(ctx context.Context, subdomain string) (*url.URL, error) {
	address, err := r.store.Get(ctx, subdomain)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("registry lookup: %w", err)
	}
	return parseBackendAddress(address)
}

// parseBackendAddress accepts either a full URL or a bare host:port pair.
func parseBackendAddress(address string) (*url.URL, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return nil, ErrNoRoute
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse backend address %q: %w", address, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend address %q has no host", address)
	}
	return parsed, nil
}

// SubdomainFromHost extracts the first DNS label of a Host header, stripping
// any port. Returns an empty string when no label can be derived.
func SubdomainFromHost(host string) string {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, ":"); idx > 0 && !strings.Contains(trimmed[idx+1:], "]") {
		trimmed = trimmed[:idx]
	}
	trimmed = strings.Trim(trimmed, "[]")
	label, _, found := strings.Cut(trimmed, ".")
	if !found {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(label))
}
