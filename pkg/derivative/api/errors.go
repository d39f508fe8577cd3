package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/simple-derivative/pkg/derivative"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: RequestIDFromContext(r.Context()),
	}})
}

// writeServiceError maps service errors to HTTP statuses
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, derivative.ErrEntityNotFound),
		errors.Is(err, derivative.ErrUserNotFound),
		errors.Is(err, derivative.ErrActionNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, derivative.ErrObjectNotFound),
		errors.Is(err, derivative.ErrStorageBackendNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "File not found")
	case errors.Is(err, derivative.ErrPrepareDirectory):
		writeError(w, r, http.StatusInternalServerError, "prepare_directory", "Unable to prepare the destination directory")
	case errors.Is(err, derivative.ErrInvalidContentLocation),
		errors.Is(err, derivative.ErrInvalidCallbackPath),
		errors.Is(err, derivative.ErrInvalidEventType),
		errors.Is(err, derivative.ErrUnsupportedEntity),
		errors.Is(err, derivative.ErrFieldNotDefined):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, derivative.ErrSourceNotFound):
		writeError(w, r, http.StatusUnprocessableEntity, "source_not_found", err.Error())
	case errors.Is(err, derivative.ErrCallbackRejected):
		writeError(w, r, http.StatusConflict, "callback_rejected", err.Error())
	case errors.As(err, &maxBytes):
		writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", "Request body too large")
	case errors.Is(err, derivative.ErrBrokerUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "broker_unavailable", err.Error())
	case errors.Is(err, derivative.ErrInvalidMessage):
		writeError(w, r, http.StatusBadRequest, "invalid_message", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "An internal server error occurred")
	}
}
