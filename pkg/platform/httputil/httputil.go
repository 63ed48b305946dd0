// Package httputil centralizes JSON encoding and domain-error translation for
// HTTP handlers, keeping transport concerns out of services.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "veritas/pkg/domain-errors"
)

// ErrorBody is the wire format for every rejection: a single human-readable
// detail string with enough structure in the message to correct the request.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// WriteError translates a domain error into the JSON error envelope. Internal
// errors are reported without their underlying detail.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.HTTPStatus(code))
	_ = json.NewEncoder(w).Encode(ErrorBody{Detail: dErrors.Detail(err)})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Decode parses the request body into T. On failure it writes a 400 response
// and returns ok=false; the handler should simply return.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(r.Context(), "invalid request body",
				"path", r.URL.Path,
				"error", err.Error(),
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		var zero T
		return zero, false
	}
	return req, true
}
