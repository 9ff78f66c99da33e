package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorResponse struct {
	Error string `json:"error"`
}

func jsonError(w http.ResponseWriter, logger *slog.Logger, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(errorResponse{Error: message}); err != nil {
		logger.Error("Failed to encode error response", slog.String(errLoggerKey, err.Error()))
	}
}
