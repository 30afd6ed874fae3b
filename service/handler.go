package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"repufi/db"
	"repufi/github"
	"repufi/httpretry"
	"repufi/logger"
	"repufi/models"
)

const maxRequestBody = 1 << 16

// Error messages returned to API callers.
const (
	msgInvalidUsername = "Username is required and must be a string."
	msgInvalidLimit    = "limit must be a positive integer."
	msgUserNotFound    = "GitHub user not found."
	msgRateLimited     = "Rate limit exceeded while contacting GitHub. Please try again later."
	msgNotConfigured   = "GitHub API token is not configured on the server."
	msgHistoryDisabled = "Score history is not enabled on this server."
	msgNoRecordedScore = "No recorded score for this user."
	msgInternal        = "Internal server error processing GitHub data."
)

// Scoring is what the HTTP layer needs from the scoring service
type Scoring interface {
	Score(ctx context.Context, username string) (*models.ScoreResult, error)
	History(ctx context.Context, username string, limit int) ([]models.ScoreRecord, error)
	Latest(ctx context.Context, username string) (*models.ScoreRecord, error)
}

type scoreRequest struct {
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the HTTP API.
func NewRouter(svc Scoring) http.Handler {
	h := &handler{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Post("/api/github-score", h.score)
	r.Get("/api/github-score/{username}/history", h.history)
	r.Get("/api/github-score/{username}/latest", h.latest)
	return r
}

type handler struct {
	svc Scoring
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidUsername)
		return
	}

	result, err := h.svc.Score(r.Context(), req.Username)
	if err != nil {
		status, msg := statusFor(err)
		logger.Log(levelFor(status), "Scoring request failed",
			zap.String("username", req.Username),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, msgInvalidLimit)
			return
		}
		limit = parsed
	}

	records, err := h.svc.History(r.Context(), chi.URLParam(r, "username"), limit)
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("History request failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *handler) latest(w http.ResponseWriter, r *http.Request) {
	record, err := h.svc.Latest(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("Latest score request failed", zap.Error(err))
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// levelFor keeps ERROR for server-side failures; caller mistakes such as an
// unknown user log at WARN.
func levelFor(status int) zapcore.Level {
	if status >= http.StatusInternalServerError {
		return zapcore.ErrorLevel
	}
	return zapcore.WarnLevel
}

// statusFor maps a service error to an HTTP status and a caller-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidUsername):
		return http.StatusBadRequest, msgInvalidUsername
	case errors.Is(err, github.ErrUserNotFound):
		return http.StatusNotFound, msgUserNotFound
	case errors.Is(err, ErrHistoryDisabled):
		return http.StatusNotFound, msgHistoryDisabled
	case errors.Is(err, db.ErrScoreNotFound):
		return http.StatusNotFound, msgNoRecordedScore
	case errors.Is(err, httpretry.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, msgRateLimited
	case errors.Is(err, github.ErrConfiguration):
		return http.StatusInternalServerError, msgNotConfigured
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
