package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/subfold/subfold/internal/archive"
	"github.com/subfold/subfold/internal/registry"
)

type stubRestarter struct {
	mu         sync.Mutex
	restarted  []string
	restartErr error
	addr       string
	addrErr    error
}

func (s *stubRestarter) Restart(_ context.Context, projectID string) error {
	s.mu.Lock()
	s.restarted = append(s.restarted, projectID)
	s.mu.Unlock()
	return s.restartErr
}

func (s *stubRestarter) Address(context.Context, string) (string, error) {
	return s.addr, s.addrErr
}

type stubDecisions struct {
	mu      sync.Mutex
	entries []archive.Decision
}

func (s *stubDecisions) AppendDecision(_ context.Context, decision *archive.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision.ID = int64(len(s.entries) + 1)
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, *decision)
	return nil
}

func (s *stubDecisions) ListDecisionsByProject(_ context.Context, projectID string, _ int) ([]archive.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []archive.Decision
	for _, d := range s.entries {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out, nil
}

type emptyFlushRepo struct{}

func (emptyFlushRepo) InsertFlush(context.Context, *archive.Flush) error { return nil }
func (emptyFlushRepo) ListFlushesByProject(context.Context, string, int) ([]archive.Flush, error) {
	return nil, nil
}

func newTestRouter(restarter *stubRestarter, decisions *stubDecisions, store registry.Store) *Router {
	return NewRouter(RouterOptions{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Hub:       NewHub(),
		Restarter: restarter,
		Registry:  store,
		Decisions: decisions,
		Flushes:   emptyFlushRepo{},
		DBHealth:  func(context.Context) error { return nil },
	})
}

func (s *stubDecisions) lastAction(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		t.Fatal("no decision recorded")
	}
	return s.entries[len(s.entries)-1].Action
}

func TestApplyFixRestartsAndReRegisters(t *testing.T) {
	restarter := &stubRestarter{addr: "http://127.0.0.1:49123"}
	decisions := &stubDecisions{}
	store := registry.NewMemoryStore()
	router := newTestRouter(restarter, decisions, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apply-fix?projectId=acme", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q, want html confirmation", ct)
	}
	if len(restarter.restarted) != 1 || restarter.restarted[0] != "acme" {
		t.Fatalf("restarted = %v", restarter.restarted)
	}
	if got := decisions.lastAction(t); got != archive.ActionFixApplied {
		t.Fatalf("action = %q, want fix_applied", got)
	}
	addr, err := store.Get(context.Background(), "acme")
	if err != nil {
		t.Fatalf("route not re-registered: %v", err)
	}
	if addr != "http://127.0.0.1:49123" {
		t.Fatalf("re-registered address = %q", addr)
	}
}

func TestApplyFixFailureRecordsFixFailed(t *testing.T) {
	restarter := &stubRestarter{restartErr: errors.New("daemon unavailable")}
	decisions := &stubDecisions{}
	store := registry.NewMemoryStore()
	router := newTestRouter(restarter, decisions, store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/apply-fix?projectId=acme", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, remediation pages always render", rec.Code)
	}
	if got := decisions.lastAction(t); got != archive.ActionFixFailed {
		t.Fatalf("action = %q, want fix_failed", got)
	}
	if _, err := store.Get(context.Background(), "acme"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatal("failed restart must not register a route")
	}
}

func TestIgnoreFixRecordsWithoutRestart(t *testing.T) {
	restarter := &stubRestarter{}
	decisions := &stubDecisions{}
	router := newTestRouter(restarter, decisions, registry.NewMemoryStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ignore-fix?projectId=acme", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(restarter.restarted) != 0 {
		t.Fatal("ignore-fix must not restart anything")
	}
	if got := decisions.lastAction(t); got != archive.ActionFixIgnored {
		t.Fatalf("action = %q, want fix_ignored", got)
	}
}

func TestRemediationEndpointsRequireProjectID(t *testing.T) {
	router := newTestRouter(&stubRestarter{}, &stubDecisions{}, registry.NewMemoryStore())
	for _, path := range []string{"/apply-fix", "/ignore-fix"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s without projectId: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestDecisionsEndpointListsRecordedActions(t *testing.T) {
	decisions := &stubDecisions{}
	router := newTestRouter(&stubRestarter{}, decisions, registry.NewMemoryStore())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ignore-fix?projectId=acme", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decisions?projectId=acme", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Decisions []struct {
			ProjectID string `json:"projectId"`
			Action    string `json:"action"`
		} `json:"decisions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Decisions) != 1 || payload.Decisions[0].Action != archive.ActionFixIgnored {
		t.Fatalf("unexpected decisions payload: %+v", payload.Decisions)
	}
}

func TestHealthzReportsComponents(t *testing.T) {
	router := newTestRouter(&stubRestarter{}, &stubDecisions{}, registry.NewMemoryStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Status != "ok" {
		t.Fatalf("status = %q", payload.Status)
	}
	if payload.Components["database"]["status"] != "up" {
		t.Fatalf("database component = %+v", payload.Components["database"])
	}
}

func TestWebsocketSubscribeReceivesWelcomeAndTelemetry(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	router := NewRouter(RouterOptions{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Hub:       hub,
		Restarter: &stubRestarter{},
		Registry:  registry.NewMemoryStore(),
		Decisions: &stubDecisions{},
		Flushes:   emptyFlushRepo{},
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("acme")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, welcome, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if string(welcome) != welcomeMessage {
		t.Fatalf("welcome = %q", welcome)
	}

	// Telemetry broadcast for the subscribed project reaches the client.
	payload := []byte(`{"projectId":"acme","logs":"ok"}`)
	hub.Broadcast("acme", payload)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read telemetry: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("telemetry = %q", got)
	}
}
