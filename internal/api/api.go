// Package api exposes the operations surface: health, metrics, open
// incidents, quarantine management, and on-demand content scans.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentwarden/internal/contentfilter"
	"agentwarden/internal/incident"
	"agentwarden/internal/netshield"
	"agentwarden/internal/watchdog"
)

// Config holds HTTP server settings.
type Config struct {
	Addr string
}

// Server serves the ops API.
type Server struct {
	http      *http.Server
	responder *incident.Responder
	watchdog  *watchdog.Watchdog
	filter    *contentfilter.Filter
	limiter   *netshield.RateLimiter
	secrets   *netshield.SecretScanner
}

// New creates the API server.
func New(cfg Config, responder *incident.Responder, wd *watchdog.Watchdog, filter *contentfilter.Filter, limiter *netshield.RateLimiter, secrets *netshield.SecretScanner) *Server {
	s := &Server{
		responder: responder,
		watchdog:  wd,
		filter:    filter,
		limiter:   limiter,
		secrets:   secrets,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/incidents", s.handleIncidents)
	r.Get("/agents/quarantined", s.handleQuarantined)
	r.Post("/agents/{name}/release", s.handleRelease)
	r.Post("/scan", s.handleScan)
	r.Post("/ratelimit/{service}", s.handleRateLimit)
	r.Get("/ratelimit/{service}", s.handleRateLimitStatus)
	r.Post("/outbound/guard", s.handleOutboundGuard)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		slog.Info("api server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server failed", "error", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIncidents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": s.responder.Incidents(),
	})
}

func (s *Server) handleQuarantined(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": s.watchdog.Quarantined(),
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "agent name required")
		return
	}

	var body struct {
		ReleasedBy string `json:"released_by"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.ReleasedBy == "" {
		body.ReleasedBy = "api"
	}

	released := s.watchdog.Release(r.Context(), name, body.ReleasedBy)
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    name,
		"released": released,
	})
}

type scanRequest struct {
	Text        string `json:"text"`
	Direction   string `json:"direction"` // inbound (default) or outbound
	UserID      string `json:"user_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	Destination string `json:"destination,omitempty"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}

	var result contentfilter.ScanResult
	switch req.Direction {
	case "", "inbound":
		result = s.filter.ScanInbound(r.Context(), req.Text, req.UserID, req.ChatID)
	case "outbound":
		result = s.filter.ScanOutbound(r.Context(), req.Text, req.Destination)
	default:
		writeError(w, http.StatusBadRequest, "direction must be inbound or outbound")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleRateLimit counts one outbound request against the service's window
// and tells the caller whether to proceed.
func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service required")
		return
	}
	allowed := s.limiter.RecordRequest(r.Context(), service)
	writeJSON(w, http.StatusOK, map[string]any{
		"service": service,
		"allowed": allowed,
	})
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	writeJSON(w, http.StatusOK, map[string]any{
		"service":   service,
		"remaining": s.limiter.Remaining(service),
	})
}

type outboundGuardRequest struct {
	Payload     string `json:"payload"`
	Destination string `json:"destination"`
	Service     string `json:"service,omitempty"`
}

// handleOutboundGuard is the single gate an agent supervisor consults before
// an external call: rate limit first, then secret scan.
func (s *Server) handleOutboundGuard(w http.ResponseWriter, r *http.Request) {
	var req outboundGuardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Destination == "" {
		writeError(w, http.StatusBadRequest, "destination required")
		return
	}

	service := req.Service
	if service == "" {
		service = req.Destination
	}

	if !s.limiter.RecordRequest(r.Context(), service) {
		writeJSON(w, http.StatusOK, map[string]any{
			"allowed": false,
			"reason":  "rate_limited",
		})
		return
	}
	if req.Payload != "" && !s.secrets.ScanAndReport(r.Context(), req.Payload, req.Destination) {
		writeJSON(w, http.StatusOK, map[string]any{
			"allowed": false,
			"reason":  "secret_detected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"allowed": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
