package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"campus-courier/models"
	"campus-courier/utilities"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type ineligibleBody struct {
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: status < 400, Message: message, Data: data}); err != nil {
		utilities.LogError(err, "failed to encode response")
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, message, nil)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var inel *models.IneligibleError
	switch {
	case errors.As(err, &inel):
		writeJSON(w, http.StatusUnprocessableEntity, inel.Reason, ineligibleBody{Reason: inel.Reason, Confidence: inel.Confidence})
	case errors.Is(err, models.ErrNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		writeMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, models.ErrIllegalTransition), errors.Is(err, models.ErrInvalidInput):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotClaimable), errors.Is(err, models.ErrAlreadyExists):
		writeMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrClaimWindowExpired):
		writeMessage(w, http.StatusGone, err.Error())
	case errors.Is(err, models.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		writeMessage(w, http.StatusServiceUnavailable, err.Error())
	default:
		utilities.LogError(err, "unhandled error")
		writeMessage(w, http.StatusInternalServerError, "internal server error")
	}
}
