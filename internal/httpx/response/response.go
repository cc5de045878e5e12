package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// Error sends an error response
func Error(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response with JSON body
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with JSON body
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound sends a 404 Not Found error
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// Conflict sends a 409 Conflict error
func Conflict(w http.ResponseWriter, message string) {
	Error(w, http.StatusConflict, message)
}

// InternalError sends a 500 Internal Server Error
func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, message)
}

// Unauthorized sends a 401 Unauthorized error
func Unauthorized(w http.ResponseWriter, message string) {
	Error(w, http.StatusUnauthorized, message)
}

// failureBody is the wire shape of a failed user action
type failureBody struct {
	Error     string            `json:"error"`
	Kind      string            `json:"kind"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable"`
}

// Failure sends a classified action failure
func Failure(w http.ResponseWriter, f *entity.Failure) {
	JSON(w, FailureStatus(f), failureBody{
		Error:     f.Message,
		Kind:      string(f.Kind),
		Fields:    f.Fields,
		Retryable: f.Retryable(),
	})
}

// FailureStatus maps a failure kind to an HTTP status
func FailureStatus(f *entity.Failure) int {
	switch f.Kind {
	case entity.FailureValidation:
		return http.StatusUnprocessableEntity
	case entity.FailureNotFound:
		return http.StatusNotFound
	case entity.FailureConflict:
		return http.StatusConflict
	case entity.FailureNetwork:
		if errors.Is(f.Err, context.Canceled) || errors.Is(f.Err, context.DeadlineExceeded) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
