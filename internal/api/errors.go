package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/relay-core/internal/relay"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest      = "bad_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternal        = "internal_error"
	ErrCodeValidation      = "validation_error"
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeNotImplemented  = "not_implemented"
	ErrCodeTransport       = "transport_error"
	ErrCodeNotDelivered    = "not_delivered"
	ErrCodeRateLimited     = "rate_limited"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// relayErrorStatus maps relay sentinels to HTTP status and error code.
func relayErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, relay.ErrAlreadyRegistered):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, relay.ErrInvalidNumber):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, relay.ErrInvalidLabel),
		errors.Is(err, relay.ErrInvalidPin),
		errors.Is(err, relay.ErrInvalidChannel),
		errors.Is(err, relay.ErrInvalidRelay):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, relay.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge
	case errors.Is(err, relay.ErrUnsupported):
		return http.StatusNotImplemented, ErrCodeNotImplemented
	case errors.Is(err, relay.ErrTransport):
		return http.StatusBadGateway, ErrCodeTransport
	case errors.Is(err, relay.ErrNotDelivered):
		return http.StatusGatewayTimeout, ErrCodeNotDelivered
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeRelayError writes the response for an error from the relay manager.
// Unexpected errors are logged and hidden from the client.
func (s *Server) writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := relayErrorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("relay operation failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}
