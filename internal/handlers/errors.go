package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Lllllllleong/scoreflow/internal/jobstore"
	"github.com/Lllllllleong/scoreflow/internal/models"
	"github.com/Lllllllleong/scoreflow/internal/services"
)

// statusFor maps a service error onto the HTTP status reported to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, jobstore.ErrInvalidCursor),
		errors.Is(err, jobstore.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, jobstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrBusy):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed.", "error", err)
		writeMessage(w, status, "Internal server error", "")
		return
	}
	message := err.Error()
	switch status {
	case http.StatusForbidden:
		message = "Unauthorized"
	case http.StatusNotFound:
		message = "Job not found"
	}
	writeMessage(w, status, message, "")
}

func writeMessage(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, models.MessageResponse{Message: message, Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
