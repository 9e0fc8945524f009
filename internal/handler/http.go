package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/scoreboard-engine/internal/backup"
	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/service"
)

const defaultMaxBatchSize = 500

// Options configures the router
type Options struct {
	// AdminToken protects the /admin routes when set.
	AdminToken string
	// SubmitRatePerSecond limits score submissions; zero disables the limit.
	SubmitRatePerSecond float64
	SubmitBurst         int
	// MaxBatchSize caps the entries of one batch request; zero means 500.
	MaxBatchSize int
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Handler provides HTTP handlers for the leaderboard API
type Handler struct {
	service *service.LeaderboardService
	backups *backup.Service
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.LeaderboardService, backups *backup.Service, opts Options, logger *slog.Logger) *Handler {
	h := &Handler{
		service: svc,
		backups: backups,
		opts:    opts,
		logger:  logger,
	}
	if h.opts.MaxBatchSize <= 0 {
		h.opts.MaxBatchSize = defaultMaxBatchSize
	}
	if opts.SubmitRatePerSecond > 0 {
		burst := opts.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.SubmitRatePerSecond), burst)
	}
	return h
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.opts.Metrics)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/games", func(r chi.Router) {
			r.Post("/", h.RegisterGame)
			r.Get("/", h.ListGames)
			r.Route("/{gameID}", func(r chi.Router) {
				r.Get("/", h.GetGame)
				r.Get("/stats", h.GetGameStats)
				r.Get("/leaderboard", h.GetTopScores)
				r.Get("/leaderboard/players/{playerID}", h.GetPlayerRank)
				r.Get("/compare", h.CompareUsers)
			})
		})

		// Score operations
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/scores", h.SubmitScore)
			r.Post("/scores/batch", h.SubmitScoreBatch)
		})
		r.Post("/scores/validate", h.ValidateScore)

		r.Route("/users/{playerID}", func(r chi.Router) {
			r.Get("/scores", h.GetUserScores)
			r.Get("/personal-bests", h.GetPersonalBests)
		})

		r.Get("/stats", h.GetGlobalStats)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.adminAuth)

			r.Get("/rules", h.ListRules)
			r.Post("/rules", h.SaveRule)
			r.Put("/rules/{ruleID}", h.SaveRule)
			r.Post("/rules/{ruleID}/activate", h.SetRuleActive(true))
			r.Post("/rules/{ruleID}/deactivate", h.SetRuleActive(false))

			r.Post("/scores/{scoreID}/invalidate", h.InvalidateScore)
			r.Post("/scores/{scoreID}/revalidate", h.RevalidateScore)

			r.Post("/backups", h.CreateBackup)
			r.Get("/backups", h.ListBackups)
			r.Get("/backups/stats", h.GetBackupStats)
			r.Post("/backups/restore", h.RestoreBackup)
			r.Post("/backups/cleanup", h.CleanupBackups)

			r.Post("/maintenance/rebuild", h.RebuildRankings)
			r.Post("/maintenance/sweep", h.SweepSuspicious)
		})
	})

	return r
}

// requestLogger logs each request through slog
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// rateLimit rejects submissions beyond the configured rate
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			h.writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuth requires the admin token as a bearer token when one is configured
func (h *Handler) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.opts.AdminToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
				h.writeError(w, http.StatusUnauthorized, errUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

var errUnauthorized = errors.New("unauthorized")

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeCreated writes a 201 JSON response
func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeDomainError maps a service error onto a status code. Unclassified
// errors are logged and reported without detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsValidationError(err), errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// decode reads a JSON body into v
func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", domain.ErrInvalidRequest)
	}
	return nil
}

// pathID parses a positive integer URL parameter
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidRequest, name)
	}
	return id, nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidRequest, name)
	}
	return v, nil
}

// queryID parses an optional positive integer query parameter
func queryID(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", domain.ErrInvalidRequest, name)
	}
	return v, nil
}

func queryWindow(r *http.Request) (domain.TimeWindow, error) {
	return domain.ParseTimeWindow(r.URL.Query().Get("period"))
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, errors.New("not ready"))
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}
