package proxy

import (
	"context"
	"errors"
	"testing"

	"github.com/subfold/subfold/internal/registry"
)

func TestSubdomainFromHost(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"acme.platform.dev", "acme"},
		{"ACME.platform.dev", "acme"},
		{"acme.platform.dev:8000", "acme"},
		{"deep.sub.platform.dev", "deep"},
		{"localhost", ""},
		{"localhost:8000", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SubdomainFromHost(tc.host); got != tc.want {
			t.Errorf("SubdomainFromHost(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestStaticResolverAppendsSubdomain(t *testing.T) {
	r, err := NewStaticResolver("https://artifacts.example.com/sites/")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	target, err := r.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target.String() != "https://artifacts.example.com/sites/acme" {
		t.Fatalf("unexpected target %s", target)
	}
}

func TestStaticResolverRequiresAbsoluteBase(t *testing.T) {
	if _, err := NewStaticResolver("artifacts.example.com"); err == nil {
		t.Fatal("expected error for relative base url")
	}
	if _, err := NewStaticResolver("  "); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestRegistryResolverNormalizesBareHostPort(t *testing.T) {
	store := registry.NewMemoryStore()
	if err := store.Put(context.Background(), "acme", "10.0.0.5:8080"); err != nil {
		t.Fatalf("put: %v", err)
	}
	r := NewRegistryResolver(store)
	target, err := r.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target.String() != "http://10.0.0.5:8080" {
		t.Fatalf("expected http scheme prefix, got %s", target)
	}
}

func TestRegistryResolverKeepsExplicitScheme(t *testing.T) {
	store := registry.NewMemoryStore()
	if err := store.Put(context.Background(), "acme", "https://cdn.example.com/acme"); err != nil {
		t.Fatalf("put: %v", err)
	}
	r := NewRegistryResolver(store)
	target, err := r.Resolve(context.Background(), "acme")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if target.Scheme != "https" || target.Host != "cdn.example.com" {
		t.Fatalf("unexpected target %s", target)
	}
}

func TestRegistryResolverMissMapsToNoRoute(t *testing.T) {
	r := NewRegistryResolver(registry.NewMemoryStore())
	if _, err := r.Resolve(context.Background(), "ghost"); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, string) error { return errors.New("redis down") }
func (failingStore) Get(context.Context, string) (string, error) {
	return "", errors.New("redis down")
}

func TestRegistryResolverOutageIsNotNoRoute(t *testing.T) {
	r := NewRegistryResolver(failingStore{})
	_, err := r.Resolve(context.Background(), "acme")
	if err == nil || errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected transport error distinct from ErrNoRoute, got %v", err)
	}
}
