package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"wisher/internal/types"
)

// maxRequestBodySize caps request bodies at 1 MB.
const maxRequestBodySize = 1 << 20

// APIResponse is the envelope for successful responses.
type APIResponse struct {
	Data interface{} `json:"data,omitempty"`
}

// APIErrorResponse is the envelope for error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the structured error body returned to clients.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// renderJSON writes a JSON response with the given status.
func renderJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(APIErrorResponse{
			Error: ErrorDetail{
				Code:    string(types.ErrCodeInternalStore),
				Message: "failed to marshal response",
			},
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// renderError writes an error response. AppErrors map to their HTTP status
// and expose their code and message; anything else becomes an opaque 500 so
// internal details never leak to clients.
func renderError(w http.ResponseWriter, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		renderJSON(w, appErr.HTTPStatus(), APIErrorResponse{
			Error: ErrorDetail{
				Code:    string(appErr.Code),
				Message: appErr.Message,
			},
		})
		return
	}

	renderJSON(w, http.StatusInternalServerError, APIErrorResponse{
		Error: ErrorDetail{
			Code:    string(types.ErrCodeInternalStore),
			Message: "an unexpected error occurred",
		},
	})
}

// decodeJSON reads the request body into dst, enforcing the size cap, strict
// field checking, and a single JSON value per body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return types.NewAppError(types.ErrCodeValidationInvalidBody,
				"request body must not be empty", err)
		}
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			"invalid JSON in request body", err)
	}
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationInvalidBody,
			"request body must contain a single JSON object", nil)
	}
	return nil
}
