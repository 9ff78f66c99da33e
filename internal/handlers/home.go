package handlers

import (
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/render"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/transcript"
)

type homePageData struct {
	SessionID string
	History   historyData
}

type historyData struct {
	Messages   []render.MessageView
	Pending    *render.MessageView
	Submitting bool
	Error      string
	Version    uint64
}

// HandleHome renders the chat page. Every load starts a new session whose ID is embedded in the page,
// so reloading the page starts an empty conversation and pages open side by side stay independent.
// Sessions of pages that were left behind expire once their event stream is gone.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID, store := m.sessions.Create()
	m.watch(sessionID, store)

	history, err := m.historyData(store.State())
	if err != nil {
		m.logger.Error("Failed to render chat history", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := homePageData{SessionID: sessionID, History: history}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleHighlightCSS serves the stylesheet of the code highlighter.
func HandleHighlightCSS(h render.Highlighter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		if err := h.WriteCSS(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func (m Main) session(r *http.Request) (string, *transcript.Store, bool) {
	sessionID := r.FormValue(sessionParam)
	if sessionID == "" {
		return "", nil, false
	}
	store, ok := m.sessions.Get(sessionID)
	if !ok {
		return "", nil, false
	}
	return sessionID, store, true
}
