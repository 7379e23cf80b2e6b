package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/subfold/subfold/internal/registry"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProxyForwardsToRegisteredBackend(t *testing.T) {
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/widgets" {
			t.Errorf("expected path /widgets, got %s", r.URL.Path)
		}
		if r.Host == "acme.platform.dev" {
			t.Error("expected upstream host rewritten to target")
		}
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("backend says hi"))
	}))
	defer backend.Close()

	store := registry.NewMemoryStore()
	addr := strings.TrimPrefix(backend.URL, "http://")
	if err := store.Put(context.Background(), "acme", addr); err != nil {
		t.Fatalf("put: %v", err)
	}

	srv, err := NewServer(Options{
		Resolver: NewRegistryResolver(store),
		Mode:     ModeDynamic,
		Registry: store,
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://acme.platform.dev/widgets", nil)
	req.Host = "acme.platform.dev"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected upstream status forwarded, got %d", rec.Code)
	}
	if rec.Body.String() != "backend says hi" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if hits.Load() != 1 {
		t.Fatalf("expected exactly one upstream hit, got %d", hits.Load())
	}
}

func TestProxyUnknownSubdomainReturnsNotFoundWithoutUpstreamCall(t *testing.T) {
	var hits atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer backend.Close()

	srv, err := NewServer(Options{
		Resolver: NewRegistryResolver(registry.NewMemoryStore()),
		Mode:     ModeDynamic,
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://ghost.platform.dev/", nil)
	req.Host = "ghost.platform.dev"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected plain text body, got %s", ct)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no upstream call, got %d", hits.Load())
	}
}

func TestProxyStaticModeRewritesRootToIndex(t *testing.T) {
	var lastPath atomic.Value
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	resolver, err := NewStaticResolver(backend.URL)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	srv, err := NewServer(Options{
		Resolver: resolver,
		Mode:     ModeStatic,
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	send := func(path string) {
		req := httptest.NewRequest(http.MethodGet, "http://acme.platform.dev"+path, nil)
		req.Host = "acme.platform.dev"
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %s: status %d", path, rec.Code)
		}
	}

	send("/")
	if got := lastPath.Load(); got != "/acme/index.html" {
		t.Fatalf("expected root rewritten to /acme/index.html, got %v", got)
	}
	send("/styles.css")
	if got := lastPath.Load(); got != "/acme/styles.css" {
		t.Fatalf("expected path forwarded unchanged, got %v", got)
	}
}

func TestProxyUpstreamRefusedReturnsOpaqueError(t *testing.T) {
	store := registry.NewMemoryStore()
	// A port that nothing listens on.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadAddr := strings.TrimPrefix(backend.URL, "http://")
	backend.Close()
	if err := store.Put(context.Background(), "acme", deadAddr); err != nil {
		t.Fatalf("put: %v", err)
	}

	srv, err := NewServer(Options{
		Resolver:    NewRegistryResolver(store),
		Mode:        ModeDynamic,
		Logger:      newTestLogger(),
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://acme.platform.dev/", nil)
	req.Host = "acme.platform.dev"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), deadAddr) {
		t.Fatal("error body leaked the upstream address")
	}
}

func TestProxyRegistryOutageReturnsServiceUnavailable(t *testing.T) {
	srv, err := NewServer(Options{
		Resolver: NewRegistryResolver(failingStore{}),
		Mode:     ModeDynamic,
		Logger:   newTestLogger(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://acme.platform.dev/", nil)
	req.Host = "acme.platform.dev"
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for registry outage, got %d", rec.Code)
	}
}

func TestRoutesEndpointRegistersAndRequiresToken(t *testing.T) {
	store := registry.NewMemoryStore()
	srv, err := NewServer(Options{
		Resolver:    NewRegistryResolver(store),
		Mode:        ModeDynamic,
		Registry:    store,
		WorkerToken: "sekrit",
		Logger:      newTestLogger(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	body := strings.NewReader(`{"subdomain":"acme","address":"10.0.0.5:8080"}`)
	req := httptest.NewRequest(http.MethodPost, "http://edge"+routesPath, body)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	body = strings.NewReader(`{"subdomain":"acme","address":"10.0.0.5:8080"}`)
	req = httptest.NewRequest(http.MethodPost, "http://edge"+routesPath, body)
	req.Header.Set("X-Worker-Token", "sekrit")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := store.Get(context.Background(), "acme")
	if err != nil || got != "10.0.0.5:8080" {
		t.Fatalf("route not stored: %q %v", got, err)
	}
}
