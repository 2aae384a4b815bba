package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"tryon/internal/domain"
	"tryon/internal/identity"
	"tryon/internal/infra"
	"tryon/internal/tryon"
)

// App carries the dependencies shared by the HTTP handlers.
type App struct {
	Service        *tryon.Service
	Logger         *infra.Logger
	Metrics        http.Handler
	MaxUploadBytes int64
}

func NewApp(service *tryon.Service, logger *infra.Logger, metrics http.Handler, maxUploadBytes int64) *App {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &App{Service: service, Logger: logger, Metrics: metrics, MaxUploadBytes: maxUploadBytes}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, errorResponse{Error: errCode, Message: message})
}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, errCode, message := classify(err)
	evt := a.Logger.Warn()
	if code >= http.StatusInternalServerError {
		evt = a.Logger.Error()
	}
	evt.Err(err).Str("path", r.URL.Path).Int("status", code).Msg("request failed")
	a.error(w, code, errCode, message)
}

func (a *App) currentUserID(r *http.Request) string {
	return identity.UserIDFromContext(r.Context())
}

// classify maps a domain error to an HTTP status, a stable error code and a
// client-facing message.
func classify(err error) (int, string, string) {
	var genErr *domain.GenerationError
	message := err.Error()
	if errors.As(err, &genErr) && genErr.Message != "" {
		message = genErr.Message
	}
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrEncoding):
		return http.StatusBadRequest, "bad_request", message
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusUnprocessableEntity, "invalid_request", message
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden, "forbidden", "not allowed"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", "generation not found"
	case errors.Is(err, domain.ErrTransientSubmission):
		return http.StatusServiceUnavailable, "provider_unavailable", message
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout", message
	case errors.Is(err, domain.ErrGenerationFailed):
		return http.StatusBadGateway, "generation_failed", message
	case errors.Is(err, domain.ErrGenerationCancelled):
		return http.StatusBadGateway, "generation_cancelled", message
	case errors.Is(err, domain.ErrProtocol):
		return http.StatusBadGateway, "provider_error", message
	case errors.Is(err, domain.ErrCancelled):
		return http.StatusRequestTimeout, "cancelled", "request cancelled"
	}
	return http.StatusInternalServerError, "internal", "internal error"
}
