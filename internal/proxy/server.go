package proxy

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/subfold/subfold/internal/registry"
)

// Proxy operating modes.
const (
	ModeStatic  = "static"
	ModeDynamic = "dynamic"
)

const (
	controlPrefix   = "/__subfold"
	healthzPath     = controlPrefix + "/healthz"
	metricsPath     = controlPrefix + "/metrics"
	routesPath      = controlPrefix + "/routes"
	registryTimeout = 2 * time.Second
)

// User-facing error bodies. Deliberately non-technical; targets and error
// detail stay in the server log.
const (
	notFoundBody    = "This site isn't live on subfold yet. If you just deployed it, we're on it - check back in a moment.\n"
	unavailableBody = "Sorry, this site is temporarily unavailable. We're working on it.\n"
)

// Options configures a proxy Server.
type Options struct {
	Resolver        Resolver
	Mode            string
	Registry        registry.Store
	WorkerToken     string
	Logger          *slog.Logger
	DialTimeout     time.Duration
	ResponseTimeout time.Duration
}

// Server routes tenant traffic by Host-header subdomain and hosts the small
// control surface deployment workers use to register routes.
type Server struct {
	resolver    Resolver
	mode        string
	registry    registry.Store
	workerToken string
	logger      *slog.Logger
	forward     *httputil.ReverseProxy

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
}

type targetKey struct{}

// NewServer assembles the proxy with its streaming forwarder.
func NewServer(opts Options) (*Server, error) {
	if opts.Resolver == nil {
		return nil, errors.New("proxy server requires a resolver")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	responseTimeout := opts.ResponseTimeout
	if responseTimeout <= 0 {
		responseTimeout = 30 * time.Second
	}

	s := &Server{
		resolver:    opts.Resolver,
		mode:        opts.Mode,
		registry:    opts.Registry,
		workerToken: strings.TrimSpace(opts.WorkerToken),
		logger:      logger.With("component", "proxy"),
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		ResponseHeaderTimeout: responseTimeout,
		ForceAttemptHTTP2:     true,
	}
	s.forward = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target := pr.In.Context().Value(targetKey{}).(*url.URL)
			pr.SetURL(target)
			pr.SetXForwarded()
			// changeOrigin: the upstream sees its own host, not the tenant's.
			pr.Out.Host = target.Host
		},
		Transport:     transport,
		FlushInterval: -1,
		ErrorHandler:  s.upstreamError,
	}
	s.initMetrics()
	return s, nil
}

// ServeHTTP dispatches control-plane paths, then treats everything else as
// tenant traffic.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	switch {
	case req.URL.Path == healthzPath:
		s.handleHealthz(w, req)
	case req.URL.Path == metricsPath:
		promhttp.Handler().ServeHTTP(w, req)
	case req.URL.Path == routesPath:
		s.handleRoutes(w, req)
	default:
		s.handleProxy(w, req)
	}
}

func (s *Server) handleProxy(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w}

	subdomain := SubdomainFromHost(req.Host)
	target, err := s.resolveTarget(req.Context(), subdomain)
	switch {
	case err == nil:
		if s.mode == ModeStatic && req.URL.Path == "/" {
			req.URL.Path = "/index.html"
		}
		ctx := context.WithValue(req.Context(), targetKey{}, target)
		s.forward.ServeHTTP(recorder, req.WithContext(ctx))
	case errors.Is(err, ErrNoRoute):
		s.plainText(recorder, http.StatusNotFound, notFoundBody)
	default:
		s.logger.Error("registry unavailable", "host", req.Host, "subdomain", subdomain, "error", err)
		s.plainText(recorder, http.StatusServiceUnavailable, unavailableBody)
	}

	status := recorder.status
	if status == 0 {
		status = http.StatusOK
	}
	fields := []any{
		"method", req.Method,
		"host", req.Host,
		"subdomain", subdomain,
		"path", req.URL.Path,
		"status", status,
		"bytes", recorder.bytes,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if target != nil {
		fields = append(fields, "target", target.String())
	}
	switch {
	case status >= http.StatusInternalServerError:
		s.logger.Error("proxy_request", fields...)
	case status >= http.StatusBadRequest:
		s.logger.Warn("proxy_request", fields...)
	default:
		s.logger.Info("proxy_request", fields...)
	}
	s.recordRequestMetrics(req.Method, status, time.Since(start))
}

func (s *Server) resolveTarget(ctx context.Context, subdomain string) (*url.URL, error) {
	if subdomain == "" {
		return nil, ErrNoRoute
	}
	return s.resolver.Resolve(ctx, subdomain)
}

// upstreamError fires when the backend refuses, times out, or the client
// walks away mid-stream. The target never reaches the response body.
func (s *Server) upstreamError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		// Client disconnected; nothing left to answer.
		return
	}
	target, _ := req.Context().Value(targetKey{}).(*url.URL)
	fields := []any{"host", req.Host, "error", err}
	if target != nil {
		fields = append(fields, "target", target.String())
	}
	s.logger.Error("upstream unreachable", fields...)
	s.plainText(w, http.StatusInternalServerError, unavailableBody)
}

// handleRoutes lets deployment workers register a subdomain -> backend
// mapping without direct access to the registry store.
func (s *Server) handleRoutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost && req.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.registry == nil {
		writeError(w, http.StatusNotImplemented, "route registration disabled in static mode")
		return
	}
	if !s.verifyWorkerToken(w, req) {
		return
	}
	var payload struct {
		Subdomain string `json:"subdomain"`
		Address   string `json:"address"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	if registry.NormalizeKey(payload.Subdomain) == "" {
		writeError(w, http.StatusBadRequest, "subdomain must be a bare DNS label")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), registryTimeout)
	defer cancel()
	if err := s.registry.Put(ctx, payload.Subdomain, payload.Address); err != nil {
		s.logger.Error("route registration failed", "subdomain", payload.Subdomain, "error", err)
		writeError(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	s.logger.Info("route registered", "subdomain", payload.Subdomain, "address", payload.Address)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	components := make(map[string]any)
	status := "ok"
	if s.registry != nil {
		ctx, cancel := context.WithTimeout(req.Context(), registryTimeout)
		defer cancel()
		if _, err := s.registry.Get(ctx, "healthz"); err != nil && !errors.Is(err, registry.ErrNotFound) {
			status = "degraded"
			components["registry"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["registry"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"mode":       s.mode,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// verifyWorkerToken ensures registration calls carry the shared worker secret.
func (s *Server) verifyWorkerToken(w http.ResponseWriter, req *http.Request) bool {
	expected := s.workerToken
	if expected == "" {
		s.logger.Error("worker token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "worker authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Worker-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		s.logger.Warn("worker token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid worker token")
		return false
	}
	return true
}

func (s *Server) plainText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
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
