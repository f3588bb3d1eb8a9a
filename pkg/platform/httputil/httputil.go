// Package httputil renders JSON responses and maps domain error codes onto
// HTTP statuses, so handlers never hand-build envelopes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "fiscus/pkg/domain-errors"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into the JSON error envelope. Errors outside the
// domain vocabulary become internal errors, and internal errors never leak
// their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	var de dErrors.Error
	if !errors.As(err, &de) {
		de = dErrors.New(dErrors.CodeInternal, "")
	}

	body := errorResponse{Error: string(de.Code)}
	if de.Code != dErrors.CodeInternal {
		body.ErrorDescription = de.Message
	}
	WriteJSON(w, statusOf(de.Code), body)
}

func statusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
