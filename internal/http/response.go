package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/fjod/cartcheckout/internal/domain"
)

const (
	statusSuccess = "success"
	statusWarn    = "warn"
	statusFail    = "fail"
	statusError   = "error"
)

type SuccessResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// WarnResponse is returned when checkout was refused because the cart drifted
// from the catalog. It is not an error.
type WarnResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, SuccessResponse{Status: statusSuccess, Data: data})
}

func respondWarn(w http.ResponseWriter, message string, data interface{}) {
	respondJSON(w, http.StatusOK, WarnResponse{Status: statusWarn, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	s := statusFail
	if status >= http.StatusInternalServerError {
		s = statusError
	}
	respondJSON(w, status, ErrorResponse{
		Status:  s,
		Message: message,
		Code:    code,
	})
}

// handleServiceError converts an error kind into a status code.
func handleServiceError(w http.ResponseWriter, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpStatus = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		httpStatus = http.StatusBadRequest
		code = "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidOrExpired):
		httpStatus = http.StatusBadRequest
		code = "invalid_or_expired"
	case errors.Is(err, domain.ErrInvalidSignature):
		httpStatus = http.StatusBadRequest
		code = "invalid_signature"
	case errors.Is(err, domain.ErrInvalidInput):
		httpStatus = http.StatusBadRequest
		code = "invalid_input"
	case errors.Is(err, domain.ErrForbidden):
		httpStatus = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, domain.ErrConflict):
		httpStatus = http.StatusConflict
		code = "conflict"
	case errors.Is(err, domain.ErrUpstreamFailure):
		httpStatus = http.StatusBadGateway
		code = "upstream_failure"
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}

// decodeJSON reads a JSON body of at most limit bytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v interface{}) bool {
	return decodeBody(w, r, limit, v, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v interface{}, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return false
	}
	respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
	return false
}
