package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subfold/subfold/internal/archive"
	"github.com/subfold/subfold/internal/backend"
	"github.com/subfold/subfold/internal/registry"
)

const (
	healthCheckTimeout = 2 * time.Second
	welcomeMessage     = "subscribed to live telemetry"
)

// Router wires the relay's HTTP surface: the dashboard websocket, the
// alert remediation endpoints, and read access to the durable archive.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	hub       *Hub
	upstream  *Subscriber
	restarter backend.Restarter
	registry  registry.Store
	decisions archive.DecisionRepository
	flushes   archive.FlushRepository
	upgrader  websocket.Upgrader
	dbHealth  func(context.Context) error
}

// RouterOptions collects Router dependencies.
type RouterOptions struct {
	Logger    *slog.Logger
	Hub       *Hub
	Upstream  *Subscriber
	Restarter backend.Restarter
	Registry  registry.Store
	Decisions archive.DecisionRepository
	Flushes   archive.FlushRepository
	DBHealth  func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(opts RouterOptions) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    opts.Logger,
		hub:       opts.Hub,
		upstream:  opts.Upstream,
		restarter: opts.Restarter,
		registry:  opts.Registry,
		decisions: opts.Decisions,
		flushes:   opts.Flushes,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		dbHealth: opts.DBHealth,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/ws", r.handleWS)
	r.mux.HandleFunc("/apply-fix", r.audit(r.handleApplyFix))
	r.mux.HandleFunc("/ignore-fix", r.audit(r.handleIgnoreFix))
	r.mux.HandleFunc("/decisions", r.audit(r.handleDecisions))
	r.mux.HandleFunc("/flushes", r.audit(r.handleFlushes))
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
}

// handleWS upgrades the connection and serves the dashboard protocol: the
// client sends a text frame holding a project id to subscribe; the first
// accepted subscription is acknowledged with a plain welcome string.
// Subsequent telemetry arrives as raw JSON messages.
func (r *Router) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := NewClient(conn, r.logger)
	recordClientConnected()

	go func() {
		subscribed := make(map[string]struct{})
		defer func() {
			for projectID := range subscribed {
				r.hub.Unregister(projectID, client)
			}
			client.Close()
			recordClientDisconnected()
		}()
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			projectID := strings.TrimSpace(string(payload))
			if projectID == "" {
				continue
			}
			if _, ok := subscribed[projectID]; ok {
				continue
			}
			r.hub.Register(projectID, client)
			subscribed[projectID] = struct{}{}
			r.logger.Info("dashboard client subscribed", "project_id", projectID)
			if len(subscribed) == 1 {
				if err := client.Send([]byte(welcomeMessage)); err != nil {
					return
				}
			}
		}
	}()
}

// handleApplyFix restarts the project's container. A successful restart
// re-registers the container's published address so the proxy immediately
// routes to the new binding, and records fix_applied; a failed restart
// records fix_failed. Repeat clicks re-log the same action.
func (r *Router) handleApplyFix(w http.ResponseWriter, req *http.Request) {
	projectID, ok := r.projectIDParam(w, req)
	if !ok {
		return
	}

	if err := r.restarter.Restart(req.Context(), projectID); err != nil {
		r.logger.Error("container restart failed", "project_id", projectID, "error", err)
		r.recordDecision(req.Context(), projectID, archive.ActionFixFailed)
		writeHTML(w, http.StatusOK, remediationPage(projectID,
			"Restart failed",
			"The restart could not be completed. The failure has been recorded and our team will follow up."))
		return
	}

	addr, err := r.restarter.Address(req.Context(), projectID)
	if err != nil {
		r.logger.Warn("restarted container has no published address", "project_id", projectID, "error", err)
	} else if err := r.registry.Put(req.Context(), projectID, addr); err != nil {
		r.logger.Error("failed to re-register restarted backend", "project_id", projectID,
			"target", addr, "error", err)
	} else {
		r.logger.Info("backend re-registered after restart", "project_id", projectID, "target", addr)
	}

	r.recordDecision(req.Context(), projectID, archive.ActionFixApplied)
	writeHTML(w, http.StatusOK, remediationPage(projectID,
		"Fix applied",
		"The container was restarted and its route refreshed. Your project should be back shortly."))
}

// handleIgnoreFix records the operator's choice without touching the backend.
func (r *Router) handleIgnoreFix(w http.ResponseWriter, req *http.Request) {
	projectID, ok := r.projectIDParam(w, req)
	if !ok {
		return
	}
	r.recordDecision(req.Context(), projectID, archive.ActionFixIgnored)
	writeHTML(w, http.StatusOK, remediationPage(projectID,
		"Alert ignored",
		"No action was taken. The alert has been dismissed for this incident."))
}

func (r *Router) handleDecisions(w http.ResponseWriter, req *http.Request) {
	projectID, ok := r.projectIDParam(w, req)
	if !ok {
		return
	}
	decisions, err := r.decisions.ListDecisionsByProject(req.Context(), projectID, queryLimit(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load decision log")
		return
	}
	entries := make([]map[string]any, 0, len(decisions))
	for _, d := range decisions {
		entries = append(entries, map[string]any{
			"projectId": d.ProjectID,
			"action":    d.Action,
			"timestamp": d.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": entries})
}

func (r *Router) handleFlushes(w http.ResponseWriter, req *http.Request) {
	projectID, ok := r.projectIDParam(w, req)
	if !ok {
		return
	}
	flushes, err := r.flushes.ListFlushesByProject(req.Context(), projectID, queryLimit(req))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load telemetry archive")
		return
	}
	entries := make([]map[string]any, 0, len(flushes))
	for _, f := range flushes {
		entries = append(entries, map[string]any{
			"id":        f.ID,
			"projectId": f.ProjectID,
			"flushedAt": f.FlushedAt.UTC().Format(time.RFC3339Nano),
			"events":    json.RawMessage(f.Events),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"flushes": entries})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	if r.upstream != nil {
		if r.upstream.Connected() {
			components["pubsub"] = map[string]any{"status": "up"}
		} else {
			status = "degraded"
			components["pubsub"] = map[string]any{"status": "down"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) projectIDParam(w http.ResponseWriter, req *http.Request) (string, bool) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}
	projectID := strings.TrimSpace(req.URL.Query().Get("projectId"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "projectId query parameter required")
		return "", false
	}
	return projectID, true
}

// recordDecision appends to the durable decision log. A write failure is
// logged but never surfaced to the operator clicking an alert link.
func (r *Router) recordDecision(ctx context.Context, projectID, action string) {
	decision := &archive.Decision{ProjectID: projectID, Action: action}
	if err := r.decisions.AppendDecision(ctx, decision); err != nil {
		r.logger.Error("failed to record decision", "project_id", projectID,
			"action", action, "error", err)
		return
	}
	recordDecisionMetric(action)
}

func queryLimit(req *http.Request) int {
	raw := strings.TrimSpace(req.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

func remediationPage(projectID, title, detail string) string {
	return fmt.Sprintf(
		"<!DOCTYPE html><html><head><title>%s</title></head><body><h1>%s</h1><p>Project <strong>%s</strong>: %s</p></body></html>",
		html.EscapeString(title), html.EscapeString(title), html.EscapeString(projectID), html.EscapeString(detail))
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
