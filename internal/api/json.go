package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/render"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error      string   `json:"error" validate:"required"`
	Stage      string   `json:"stage,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeError maps the error taxonomy onto HTTP statuses. Validation details
// are returned to the caller; render failures stay opaque.
func writeError(w http.ResponseWriter, op string, err error) {
	var (
		ve *apperr.ValidationError
		ik *apperr.InvalidIssuerKindError
		re *apperr.RenderError
	)
	switch {
	case errors.As(err, &ve):
		body := errResponse{Error: "validation failed", Stage: ve.Stage}
		for _, v := range ve.Violations {
			body.Violations = append(body.Violations, v.Error())
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &ik):
		writeJSON(w, http.StatusBadRequest, errorBody(ik.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("document already exists"))
	case errors.Is(err, render.ErrUnsupportedText):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("document contains characters no font can render"))
	case errors.As(err, &re) && re.Retryable, errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, errorBody("rendering is unavailable, try again later"))
	case errors.As(err, &re):
		writeJSON(w, http.StatusInternalServerError, errorBody("rendering failed"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
