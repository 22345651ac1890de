package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ec-storefront/internal/apperr"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

var errorStatuses = []struct {
	kind   error
	status int
}{
	{apperr.ErrValidation, http.StatusBadRequest},
	{apperr.ErrInvalidReference, http.StatusBadRequest},
	{apperr.ErrEmptyCart, http.StatusBadRequest},
	{apperr.ErrNotFound, http.StatusNotFound},
	{apperr.ErrUnauthorized, http.StatusForbidden},
	{apperr.ErrInsufficientStock, http.StatusConflict},
	{apperr.ErrConflict, http.StatusConflict},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

func statusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.kind) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

// writeError is the single place domain errors become HTTP responses.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorResponse{Error: err.Error()}

	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}

	switch status {
	case http.StatusGatewayTimeout:
		h.logger.Warn("request timed out",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if !h.exposeErrors {
			body.Error = "request timed out"
		}
	case http.StatusInternalServerError:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if !h.exposeErrors {
			body.Error = "internal server error"
		}
	}

	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

const maxBodyBytes = 1 << 20

// decodeJSON reads a request body into dst; a malformed body is a
// validation error on "body".
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Invalid("body", "malformed JSON: "+err.Error())
	}
	return nil
}
