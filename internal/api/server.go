// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/chesscom-crawler/internal/config"
	"github.com/JakeFAU/chesscom-crawler/internal/crawler"
	"github.com/JakeFAU/chesscom-crawler/internal/metrics"
	"github.com/JakeFAU/chesscom-crawler/internal/stats"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
	seedTimeout         = 5 * time.Second
)

// Seeder accepts new first-attempt targets.
type Seeder interface {
	Seed(ctx context.Context, targets []string) (int, error)
}

// Server wires HTTP handlers to the dispatcher, stats, and ledger.
type Server struct {
	router  chi.Router
	seeder  Seeder
	stats   *stats.Stats
	ledger  crawler.Ledger
	baseURL string
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	seeder Seeder,
	st *stats.Stats,
	ledger crawler.Ledger,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.Crawler.BaseURL
	if baseURL == "" {
		baseURL = crawler.DefaultBaseURL
	}
	s := &Server{
		seeder:  seeder,
		stats:   st,
		ledger:  ledger,
		baseURL: baseURL,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/stats", s.getStats)
		r.Get("/attempts", s.listAttempts)
		r.Post("/targets", s.submitTargets)
		r.Post("/players", s.submitPlayers)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statsResponse struct {
	Pending          int     `json:"pending"`
	Dropped          int     `json:"dropped"`
	Processed        int     `json:"processed"`
	Throttled        int     `json:"throttled"`
	Gone             int     `json:"gone"`
	Failed           int     `json:"failed"`
	Succeeded        int     `json:"succeeded"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.stats.Snapshot()
	writeJSON(w, http.StatusOK, statsResponse{
		Pending:          snap.Pending,
		Dropped:          snap.Dropped,
		Processed:        snap.Processed,
		Throttled:        snap.Throttled,
		Gone:             snap.Gone,
		Failed:           snap.Failed,
		Succeeded:        snap.Succeeded,
		AverageLatencyMS: math.Round(snap.AverageLatencyMS()*100) / 100,
	})
}

type attemptView struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code"`
	Reason     string    `json:"reason,omitempty"`
	ElapsedMS  float64   `json:"elapsed_ms"`
	Discovered int       `json:"discovered"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAttemptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	recent := s.ledger.Recent(limit)
	views := make([]attemptView, 0, len(recent))
	for _, a := range recent {
		views = append(views, attemptView{
			ID:         a.ID,
			Target:     a.Target,
			Attempt:    a.Attempt,
			Outcome:    a.Outcome.String(),
			StatusCode: a.StatusCode,
			Reason:     a.Reason,
			ElapsedMS:  float64(a.Elapsed) / float64(time.Millisecond),
			Discovered: a.Discovered,
			FinishedAt: a.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": views})
}

type targetsRequest struct {
	Targets []string `json:"targets"`
}

type playersRequest struct {
	Players []string `json:"players"`
}

func (s *Server) submitTargets(w http.ResponseWriter, r *http.Request) {
	var req targetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "targets required")
		return
	}
	for _, target := range req.Targets {
		if err := crawler.ValidateTarget(target); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.seed(w, r, req.Targets)
}

func (s *Server) submitPlayers(w http.ResponseWriter, r *http.Request) {
	var req playersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Players) == 0 {
		writeError(w, http.StatusBadRequest, "players required")
		return
	}
	targets := make([]string, 0, len(req.Players))
	for _, p := range req.Players {
		p = strings.TrimSpace(p)
		if p == "" {
			writeError(w, http.StatusBadRequest, "player names must be non-empty")
			return
		}
		targets = append(targets, crawler.PlayerStatsURL(s.baseURL, p))
	}
	s.seed(w, r, targets)
}

func (s *Server) seed(w http.ResponseWriter, r *http.Request, targets []string) {
	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()

	accepted, err := s.seeder.Seed(ctx, targets)
	if err != nil {
		s.logger.Warn("seed incomplete", zap.Int("accepted", accepted), zap.Error(err))
		if accepted == 0 {
			writeError(w, seedErrorStatus(err), err.Error())
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]int{
		"accepted": accepted,
		"offered":  len(targets),
	})
}

func seedErrorStatus(err error) int {
	switch {
	case errors.Is(err, crawler.ErrQueueFull), errors.Is(err, crawler.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
