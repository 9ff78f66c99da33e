package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/transcript"
)

// HandleChats serves the chat history of the session named by the "session" parameter.
//
// A POST submits the "message" form field as a new user turn. The submission runs in the background;
// the response renders the history with the pending message, and the outcome is pushed through the
// session's event stream once the completion service answers. Empty messages are rejected with 400,
// and a message sent while another one is pending is rejected with 409.
//
// A GET renders the current history, which lets a page resynchronise after its event stream
// reconnects.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	sessionID, store, ok := m.session(r)
	if !ok {
		m.logger.Warn("Session not found", slog.String("remoteAddr", r.RemoteAddr))
		http.Error(w, "Session expired, reload the page", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		msg := r.FormValue("message")
		run, err := store.Begin(msg)
		if err != nil {
			switch {
			case errors.Is(err, transcript.ErrEmptyMessage):
				m.logger.Warn("Message is required", slog.String("sessionID", sessionID))
				http.Error(w, "Message is required", http.StatusBadRequest)
			case errors.Is(err, transcript.ErrSubmissionInProgress):
				m.logger.Warn("Submission already in progress", slog.String("sessionID", sessionID))
				http.Error(w, "A message is already being sent", http.StatusConflict)
			default:
				m.logger.Error("Failed to begin submission", slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}

		// The request context ends with this response, the submission has to outlive it.
		go m.submit(m.ctx, sessionID, run)
	default:
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st := store.State()
	data, err := m.historyData(st)
	if err != nil {
		m.logger.Error("Failed to render chat history",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "chat_history", data); err != nil {
		m.logger.Error("Failed to execute chat_history template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) submit(ctx context.Context, sessionID string, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		// The store already logged the failure and recorded it for the page.
		return
	}
	m.logger.Debug("Message submitted", slog.String("sessionID", sessionID))
}

// HandleChatbot is the chatbot endpoint: it accepts {model, messages} as JSON, forwards the transcript
// to the upstream completion service and answers with {choices: [{message}]}.
func (m Main) HandleChatbot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		jsonError(w, m.logger, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.upstream == nil {
		jsonError(w, m.logger, "No upstream completion service configured", http.StatusServiceUnavailable)
		return
	}

	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		m.logger.Warn("Client sent malformed JSON request", slog.String(errLoggerKey, err.Error()))
		jsonError(w, m.logger, "Invalid request format", http.StatusBadRequest)
		return
	}
	if err := m.validate.Struct(req); err != nil {
		m.logger.Warn("Request validation failed", slog.String(errLoggerKey, err.Error()))
		jsonError(w, m.logger, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	m.logger.Info("Received chatbot request",
		slog.String("model", req.Model),
		slog.Int("messageCount", len(req.Messages)),
		slog.String("remoteAddr", r.RemoteAddr))

	reply, err := m.upstream.Complete(r.Context(), req.Model, req.Messages)
	if err != nil {
		m.logger.Error("Failed to process chat",
			slog.Int("messageCount", len(req.Messages)),
			slog.String(errLoggerKey, err.Error()))
		jsonError(w, m.logger, "Failed to process chat", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	res := models.ChatResponse{Choices: []models.Choice{{Message: reply}}}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		m.logger.Error("Failed to encode response", slog.String(errLoggerKey, err.Error()))
	}
}
