package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	chatbotwebui "github.com/MegaGrindStone/chatbot-web-ui"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/render"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/session"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/transcript"
	"github.com/go-playground/validator/v10"
	"github.com/tmaxmax/go-sse"
)

// Completer represents a completion service. It accepts a context, a model identifier and the
// transcript, and returns the next assistant message.
type Completer interface {
	Complete(ctx context.Context, model string, messages []models.ChatMessage) (models.ChatMessage, error)
}

// Main handles the core functionality of the chat application, managing page sessions, server-sent
// events, HTML templates, and the chatbot endpoint.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	renderer  *render.Renderer
	sessions  *session.Manager

	upstream Completer
	validate *validator.Validate

	// ctx bounds the submissions running in the background, cancel is called on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	logger *slog.Logger
}

const (
	// sessionParam carries the page's session ID, as a form field on /chats and a query parameter
	// on /sse. Every page has its own ID, so pages open side by side never share a transcript.
	sessionParam = "session"
	errLoggerKey = "err"
)

// SSE event type carrying the rendered chat history.
var messagesSSEType = sse.Type("messages")

// NewMain creates a new Main instance. The renderer turns messages into HTML, the session manager owns
// the transcripts of open pages and upstream serves the chatbot endpoint; a nil upstream disables that
// endpoint. It parses the required HTML templates from the embedded filesystem and configures the SSE
// server so every page only receives the events of its own session.
func NewMain(
	renderer *render.Renderer,
	sessions *session.Manager,
	upstream Completer,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chatbotwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := Main{
		sseSrv:    &sse.Server{},
		templates: tmpl,
		renderer:  renderer,
		sessions:  sessions,
		upstream:  upstream,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(slog.String("module", "main")),
	}
	m.sseSrv.OnSession = m.onSession

	return m, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// HandleSSE serves the event stream of the page whose session is named by the "session" query
// parameter. The session is kept alive for as long as the stream stays open.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get(sessionParam)
	_, release, ok := m.sessions.Attach(sessionID)
	if !ok {
		m.logger.Warn("Session not found", slog.String("remoteAddr", r.RemoteAddr))
		http.Error(w, "Session expired, reload the page", http.StatusNotFound)
		return
	}
	defer release()

	m.sseSrv.ServeHTTP(w, r)
}

// onSession subscribes the stream to its session's topic and sends the current history right away,
// so a page that reconnects catches up with what it missed.
func (m Main) onSession(s *sse.Session) (sse.Subscription, bool) {
	sessionID := s.Req.URL.Query().Get(sessionParam)
	store, ok := m.sessions.Get(sessionID)
	if !ok {
		http.Error(s.Res, "Session expired, reload the page", http.StatusNotFound)
		return sse.Subscription{}, false
	}

	msg, err := m.stateMessage(store.State())
	if err != nil {
		m.logger.Error("Failed to render chat history",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(s.Res, err.Error(), http.StatusInternalServerError)
		return sse.Subscription{}, false
	}
	if err := s.Send(msg); err != nil {
		return sse.Subscription{}, false
	}
	if err := s.Flush(); err != nil {
		return sse.Subscription{}, false
	}

	return sse.Subscription{
		Client:      s,
		LastEventID: s.LastEventID,
		Topics:      []string{sse.DefaultTopic, sessionTopic(sessionID)},
	}, true
}

// Shutdown cancels the submissions still waiting on the completion service and gracefully terminates
// the Main instance's SSE server. It broadcasts a close message to all connected clients and waits up
// to 5 seconds for connections to terminate. After the timeout, any remaining connections are
// forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.cancel()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// watch publishes every state change of the session's transcript to the pages subscribed to it.
func (m Main) watch(sessionID string, store *transcript.Store) {
	store.OnChange(func(st transcript.State) {
		m.publishState(sessionID, st)
	})
}

func (m Main) publishState(sessionID string, st transcript.State) {
	if m.ctx.Err() != nil {
		return
	}

	msg, err := m.stateMessage(st)
	if err != nil {
		m.logger.Error("Failed to render chat history",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.sseSrv.Publish(msg, sessionTopic(sessionID)); err != nil {
		m.logger.Error("Failed to publish messages",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) stateMessage(st transcript.State) (*sse.Message, error) {
	history, err := m.historyHTML(st)
	if err != nil {
		return nil, err
	}

	msg := &sse.Message{Type: messagesSSEType}
	msg.AppendData(history)
	return msg, nil
}

func (m Main) historyHTML(st transcript.State) (string, error) {
	data, err := m.historyData(st)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "chat_history", data); err != nil {
		return "", fmt.Errorf("failed to execute chat_history template: %w", err)
	}
	return sb.String(), nil
}

func (m Main) historyData(st transcript.State) (historyData, error) {
	views, err := m.renderer.Views(st.Messages)
	if err != nil {
		return historyData{}, err
	}

	data := historyData{
		Messages:   views,
		Submitting: st.Submitting,
		Version:    st.Version,
	}
	if st.Pending != "" {
		pending, err := m.renderer.View(models.ChatMessage{Role: models.RoleUser, Content: st.Pending})
		if err != nil {
			return historyData{}, err
		}
		data.Pending = &pending
	}
	if st.Err != nil {
		data.Error = "The message could not be sent. Check your connection and press Send to try again."
	}
	return data, nil
}
