package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"lan-registration-platform/internal/middleware"
	"lan-registration-platform/internal/models"
)

// maxBodyBytes bounds request bodies, webhooks included
const maxBodyBytes = 64 << 10

// statusFor maps a domain error kind to its HTTP status
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindValidation, models.KindDomain:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindUnauthorized:
		return http.StatusUnauthorized
	case models.KindGateway:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError writes err as an ErrorResponse. Infrastructure errors are
// logged and reported without their message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	code := models.CodeOf(err)
	message := err.Error()

	if code == "" {
		log.Printf("Handler error on %s %s: %v", r.Method, r.URL.Path, err)
		code = "internal_error"
		message = "internal server error"
		if status == http.StatusGatewayTimeout {
			code = "timeout"
			message = "the request timed out"
		}
	}
	middleware.WriteError(w, status, code, message)
}

// decodeJSON decodes a bounded JSON body into v, rejecting unknown fields
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return models.ErrInvalidInput.WithDetail("request body is empty")
		}
		return models.ErrInvalidInput.WithDetail("malformed JSON: %v", err)
	}
	return nil
}
