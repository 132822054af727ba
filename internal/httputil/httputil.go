// Package httputil holds the request and response plumbing shared by the HTTP
// functions.
package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// Preflight sets the CORS headers and answers OPTIONS requests. It returns
// true when the request has been fully handled.
func Preflight(w http.ResponseWriter, r *http.Request, allowedOrigin string, methods string) bool {
	if allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

// RequireMethod writes a 405 unless r uses one of allowed.
func RequireMethod(w http.ResponseWriter, r *http.Request, allowed ...string) bool {
	for _, m := range allowed {
		if r.Method == m {
			return true
		}
	}
	WriteError(w, apperror.New(apperror.MethodNotAllowed, "Method not allowed"))
	return false
}

// DecodeJSON decodes the request body into dst. An empty body is a
// validation error, as is malformed JSON.
func DecodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case errors.Is(err, io.EOF):
		return apperror.Validationf("Request body is empty")
	case err != nil:
		return apperror.Validationf("Could not parse JSON: %s", err.Error())
	}
	return nil
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
		http.Error(w, "Internal Server Error: failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// WriteError maps err to its HTTP status. Errors that are not an
// *apperror.Error are reported as internal without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		slog.Error("Unhandled error", "error", err)
		appErr = apperror.New(apperror.Internal, "Internal Server Error: processing failed")
	}
	WriteJSON(w, appErr.HTTPStatus(), ErrorBody{
		Code:    string(appErr.Code()),
		Error:   appErr.Message(),
		Details: appErr.Details(),
	})
}
