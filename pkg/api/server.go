package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jihwankim/redisguard/pkg/alerting"
	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/failover"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/metrics"
	"github.com/jihwankim/redisguard/pkg/telemetry"
)

// HealthProvider exposes evaluated statuses to the API
type HealthProvider interface {
	AllHealth() map[string]map[string]health.Status
	InstanceHealth(uid string) map[string]health.Status
}

// MetricsProvider exposes stored samples to the API
type MetricsProvider interface {
	Since(uid string, age time.Duration) []metrics.Sample
}

// DecisionProvider exposes the failover engine to the API
type DecisionProvider interface {
	Decisions() []failover.Decision
	Recommendations(uid string) []failover.AIRecommendation
	ManualFailover(ctx context.Context, uid, targetDC, reason string) (failover.Decision, error)
}

// AlertProvider exposes alert history to the API
type AlertProvider interface {
	History(n int) []alerting.Alert
}

// Server is the read-only admin API plus the manual failover endpoint
type Server struct {
	cfg       *config.Config
	healths   HealthProvider
	samples   MetricsProvider
	decisions DecisionProvider
	alerts    AlertProvider
	tele      *telemetry.Metrics
	logger    *logging.Logger

	srv *http.Server
}

// NewServer builds the router; it does not listen until Start
func NewServer(
	cfg *config.Config,
	healths HealthProvider,
	samples MetricsProvider,
	decisions DecisionProvider,
	alerts AlertProvider,
	tele *telemetry.Metrics,
	logger *logging.Logger,
) *Server {
	s := &Server{
		cfg:       cfg,
		healths:   healths,
		samples:   samples,
		decisions: decisions,
		alerts:    alerts,
		tele:      tele,
		logger:    logger.WithField("component", "api"),
	}

	listen := cfg.API.Listen
	if listen == "" {
		listen = ":8080"
	}
	s.srv = &http.Server{
		Addr:         listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.Handle("/metrics", s.tele.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/health", s.handleAllHealth).Methods(http.MethodGet)
	v1.HandleFunc("/health/{uid}", s.handleInstanceHealth).Methods(http.MethodGet)
	v1.HandleFunc("/metrics/{uid}", s.handleInstanceMetrics).Methods(http.MethodGet)
	v1.HandleFunc("/decisions", s.handleDecisions).Methods(http.MethodGet)
	v1.HandleFunc("/recommendations/{uid}", s.handleRecommendations).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/failover/{uid}", s.handleManualFailover).Methods(http.MethodPost)

	return r
}

// requestIDMiddleware tags every response and access log line with an id
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		s.logger.Debug("request",
			"request_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires X-API-Key when a key is configured
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.API.APIKey != "" && r.Header.Get("X-API-Key") != s.cfg.API.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.Info("admin API listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin API failed", "error", err.Error())
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAllHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healths.AllHealth())
}

func (s *Server) handleInstanceHealth(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if s.cfg.FindInstance(uid) == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown instance %s", uid))
		return
	}
	writeJSON(w, http.StatusOK, s.healths.InstanceHealth(uid))
}

func (s *Server) handleInstanceMetrics(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if s.cfg.FindInstance(uid) == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown instance %s", uid))
		return
	}

	minutes := 15
	if v := r.URL.Query().Get("minutes"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "minutes must be a positive integer")
			return
		}
		minutes = parsed
	}

	writeJSON(w, http.StatusOK, s.samples.Since(uid, time.Duration(minutes)*time.Minute))
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.decisions.Decisions())
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if s.cfg.FindInstance(uid) == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown instance %s", uid))
		return
	}
	writeJSON(w, http.StatusOK, s.decisions.Recommendations(uid))
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, s.alerts.History(limit))
}

func (s *Server) handleManualFailover(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]

	var body struct {
		TargetDC string `json:"target_dc"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.TargetDC == "" {
		writeError(w, http.StatusBadRequest, "target_dc is required")
		return
	}

	s.logger.Info("manual failover requested",
		"instance", uid, "target_dc", body.TargetDC, "reason", body.Reason)

	decision, err := s.decisions.ManualFailover(r.Context(), uid, body.TargetDC, body.Reason)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
