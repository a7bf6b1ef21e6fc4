package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
)

type errorResponse struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindGuardViolation, domain.KindInvalidAmount, domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindPaymentFailed, domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindAlreadyDone, domain.KindAlreadyPaid:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeServiceError maps a service error onto the response. Errors outside
// the domain taxonomy are logged and hidden behind a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	code := de.Code
	if code == "" {
		code = string(de.Kind)
	}
	writeJSON(w, statusFor(de.Kind), errorResponse{Code: code, Message: de.Message})
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return false
	}
	return true
}
