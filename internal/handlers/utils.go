package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/exambook/apiserver/internal/logging"
	"github.com/exambook/apiserver/internal/validation"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Message string                 `json:"message"`
	Errors  validation.FieldErrors `json:"errors,omitempty"`
}

// MessageResponse is a reply that carries only a message.
type MessageResponse struct {
	Message string `json:"message"`
}

func withSubject(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextSubjectKey, userID)
}

// userIDFromContext returns the authenticated user's ID, if any.
func userIDFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", false
	}
	return subject, true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Message: message})
}

func writeValidationError(w http.ResponseWriter, errs validation.FieldErrors) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Validation failed", Errors: errs})
}

// writeServerError logs err against the request and replies 500 with message.
func writeServerError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg(message)
	writeError(w, http.StatusInternalServerError, message)
}

// positiveInt parses raw, falling back to def for anything but a positive integer.
func positiveInt(raw string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func parsePagination(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page = positiveInt(q.Get("page"), defaultPage)
	limit = min(positiveInt(q.Get("limit"), defaultLimit), maxLimit)
	return page, limit
}

// optionalFloat returns nil when raw is empty or not a finite number.
func optionalFloat(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
