package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/handlers"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/render"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/session"
	"github.com/MegaGrindStone/chatbot-web-ui/internal/transcript"
	"github.com/tmaxmax/go-sse"
)

type mockCompleter struct {
	reply   string
	err     error
	release chan struct{}

	mu    sync.Mutex
	calls [][]models.ChatMessage
}

func (m *mockCompleter) Complete(
	ctx context.Context,
	_ string,
	messages []models.ChatMessage,
) (models.ChatMessage, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()

	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return models.ChatMessage{}, ctx.Err()
		}
	}
	if m.err != nil {
		return models.ChatMessage{}, m.err
	}
	return models.ChatMessage{Role: models.RoleAssistant, Content: m.reply}, nil
}

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.calls)
}

const baseline = "I am a helpful chatbot."

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMain(t *testing.T, completer, upstream handlers.Completer) (handlers.Main, *session.Manager) {
	t.Helper()

	logger := testLogger()
	renderer := render.NewRenderer(render.NewHighlighter("github"), 16)
	sessions := session.NewManager(func() *transcript.Store {
		return transcript.New(baseline, completer, "test-model", logger)
	}, time.Minute, logger)

	main, err := handlers.NewMain(renderer, sessions, upstream, logger)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return main, sessions
}

var sessionField = regexp.MustCompile(`name="session" value="([^"]+)"`)

// openPage loads the home page and returns the session ID embedded in it.
func openPage(t *testing.T, main handlers.Main) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	main.HandleHome(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("HandleHome() status = %v, want %v", rr.Code, http.StatusOK)
	}
	match := sessionField.FindStringSubmatch(rr.Body.String())
	if match == nil {
		t.Fatal("HandleHome() did not embed the session ID")
	}
	return match[1]
}

func postMessage(main handlers.Main, sessionID, message string) *httptest.ResponseRecorder {
	form := url.Values{"message": {message}}
	if sessionID != "" {
		form.Set("session", sessionID)
	}
	req := httptest.NewRequest(http.MethodPost, "/chats", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	main.HandleChats(rr, req)
	return rr
}

func getHistory(main handlers.Main, sessionID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/chats?session="+url.QueryEscape(sessionID), nil)
	rr := httptest.NewRecorder()
	main.HandleChats(rr, req)
	return rr
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestServer(t *testing.T, main handlers.Main) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/", main.HandleHome)
	mux.HandleFunc("/chats", main.HandleChats)
	mux.HandleFunc("/sse", main.HandleSSE)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// subscribe opens the event stream of the session. The stream is closed when the test ends.
func subscribe(t *testing.T, baseURL, sessionID string) <-chan sse.Event {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/sse?session="+url.QueryEscape(sessionID), nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		t.Fatalf("/sse status = %v, want %v", res.StatusCode, http.StatusOK)
	}

	events := make(chan sse.Event, 16)
	go func() {
		defer close(events)
		defer res.Body.Close()

		for ev, err := range sse.Read(res.Body, nil) {
			if err != nil {
				return
			}
			events <- ev
		}
	}()
	return events
}

func waitForEvent(t *testing.T, events <-chan sse.Event, match func(sse.Event) bool) sse.Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event stream closed")
			}
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("event not received in time")
		}
	}
}

func historyVersion(version string) func(sse.Event) bool {
	return func(ev sse.Event) bool {
		return ev.Type == "messages" && strings.Contains(ev.Data, `data-version="`+version+`"`)
	}
}

func TestNewMain(t *testing.T) {
	main, _ := newTestMain(t, &mockCompleter{}, nil)

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	main, sessions := newTestMain(t, &mockCompleter{}, nil)

	tests := []struct {
		name       string
		method     string
		url        string
		wantStatus int
		wantBody   []string
	}{
		{
			name:       "Home page",
			method:     http.MethodGet,
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   []string{"Chat baseline", baseline, `id="chat-form"`, `data-version="0"`},
		},
		{
			name:       "Unknown path",
			method:     http.MethodGet,
			url:        "/unknown",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Method not allowed",
			method:     http.MethodPost,
			url:        "/",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			rr := httptest.NewRecorder()

			main.HandleHome(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", rr.Code, tt.wantStatus)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(rr.Body.String(), want) {
					t.Errorf("HandleHome() body should contain %q", want)
				}
			}
		})
	}

	t.Run("Each load starts its own session", func(t *testing.T) {
		before := sessions.Len()
		first := openPage(t, main)
		second := openPage(t, main)

		if first == second {
			t.Fatal("two page loads share a session ID")
		}
		if _, ok := sessions.Get(first); !ok {
			t.Error("first page's session should survive another page load")
		}
		if sessions.Len() != before+2 {
			t.Errorf("sessions = %d, want %d", sessions.Len(), before+2)
		}
	})
}

func TestHandleChats(t *testing.T) {
	t.Run("Missing session", func(t *testing.T) {
		main, _ := newTestMain(t, &mockCompleter{}, nil)

		rr := postMessage(main, "unknown", "Hello")
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %v, want %v", rr.Code, http.StatusNotFound)
		}

		rr = postMessage(main, "", "Hello")
		if rr.Code != http.StatusNotFound {
			t.Errorf("status without session = %v, want %v", rr.Code, http.StatusNotFound)
		}
	})

	t.Run("Empty message", func(t *testing.T) {
		completer := &mockCompleter{}
		main, _ := newTestMain(t, completer, nil)
		sessionID := openPage(t, main)

		for _, msg := range []string{"", "   \n\t"} {
			rr := postMessage(main, sessionID, msg)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status for %q = %v, want %v", msg, rr.Code, http.StatusBadRequest)
			}
		}
		if completer.callCount() != 0 {
			t.Errorf("completer called %d times, want 0", completer.callCount())
		}
	})

	t.Run("Method not allowed", func(t *testing.T) {
		main, _ := newTestMain(t, &mockCompleter{}, nil)
		sessionID := openPage(t, main)

		req := httptest.NewRequest(http.MethodDelete, "/chats?session="+sessionID, nil)
		rr := httptest.NewRecorder()
		main.HandleChats(rr, req)

		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %v, want %v", rr.Code, http.StatusMethodNotAllowed)
		}
	})

	t.Run("Submission", func(t *testing.T) {
		completer := &mockCompleter{reply: "Hi **there**", release: make(chan struct{})}
		main, sessions := newTestMain(t, completer, nil)
		sessionID := openPage(t, main)
		store, ok := sessions.Get(sessionID)
		if !ok {
			t.Fatal("session not found")
		}

		rr := postMessage(main, sessionID, "Hello")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %v, want %v", rr.Code, http.StatusOK)
		}
		body := rr.Body.String()
		for _, want := range []string{"message-pending", "Hello", "message-loading", `data-submitting="true"`} {
			if !strings.Contains(body, want) {
				t.Errorf("response should contain %q, got %s", want, body)
			}
		}

		rr = postMessage(main, sessionID, "Again")
		if rr.Code != http.StatusConflict {
			t.Errorf("overlapping status = %v, want %v", rr.Code, http.StatusConflict)
		}

		close(completer.release)
		waitFor(t, func() bool { return !store.IsSubmitting() })

		msgs := store.Messages()
		if len(msgs) != 3 {
			t.Fatalf("messages = %d, want 3", len(msgs))
		}
		if msgs[1].Content != "Hello" || msgs[2].Content != "Hi **there**" {
			t.Errorf("unexpected transcript %+v", msgs)
		}
		if completer.callCount() != 1 {
			t.Errorf("completer called %d times, want 1", completer.callCount())
		}

		rr = getHistory(main, sessionID)

		body = rr.Body.String()
		if rr.Code != http.StatusOK {
			t.Fatalf("GET status = %v, want %v", rr.Code, http.StatusOK)
		}
		for _, want := range []string{"<strong>there</strong>", "message-assistant", `data-submitting="false"`} {
			if !strings.Contains(body, want) {
				t.Errorf("history should contain %q, got %s", want, body)
			}
		}
		if strings.Contains(body, "message-loading") {
			t.Error("history should not contain the loading placeholder")
		}
	})

	t.Run("Failed submission", func(t *testing.T) {
		completer := &mockCompleter{err: errors.New("connection refused")}
		main, sessions := newTestMain(t, completer, nil)
		sessionID := openPage(t, main)
		store, _ := sessions.Get(sessionID)

		if rr := postMessage(main, sessionID, "Hello"); rr.Code != http.StatusOK {
			t.Fatalf("status = %v, want %v", rr.Code, http.StatusOK)
		}
		waitFor(t, func() bool { return store.LastError() != nil })

		if n := len(store.Messages()); n != 1 {
			t.Errorf("messages = %d, want 1", n)
		}

		rr := getHistory(main, sessionID)

		if !strings.Contains(rr.Body.String(), "alert-error") {
			t.Errorf("history should contain the error notice, got %s", rr.Body.String())
		}
	})
}

func TestHandleChatbot(t *testing.T) {
	validBody := `{"model":"gpt-3.5-turbo","messages":[{"role":"system","content":"base"},{"role":"user","content":"Hi"}]}`

	tests := []struct {
		name       string
		method     string
		body       string
		upstream   *mockCompleter
		noUpstream bool
		wantStatus int
		wantReply  string
	}{
		{
			name:       "Success",
			method:     http.MethodPost,
			body:       validBody,
			upstream:   &mockCompleter{reply: "Hello!"},
			wantStatus: http.StatusOK,
			wantReply:  "Hello!",
		},
		{
			name:       "Method not allowed",
			method:     http.MethodGet,
			upstream:   &mockCompleter{},
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "No upstream",
			method:     http.MethodPost,
			body:       validBody,
			noUpstream: true,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "Malformed JSON",
			method:     http.MethodPost,
			body:       `{"model":`,
			upstream:   &mockCompleter{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown role",
			method:     http.MethodPost,
			body:       `{"model":"m","messages":[{"role":"tool","content":"x"}]}`,
			upstream:   &mockCompleter{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Missing model",
			method:     http.MethodPost,
			body:       `{"messages":[{"role":"user","content":"x"}]}`,
			upstream:   &mockCompleter{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Empty messages",
			method:     http.MethodPost,
			body:       `{"model":"m","messages":[]}`,
			upstream:   &mockCompleter{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Upstream failure",
			method:     http.MethodPost,
			body:       validBody,
			upstream:   &mockCompleter{err: errors.New("boom")},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var upstream handlers.Completer
			if !tt.noUpstream {
				upstream = tt.upstream
			}
			main, _ := newTestMain(t, &mockCompleter{}, upstream)

			req := httptest.NewRequest(tt.method, "/api/chatbot", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			main.HandleChatbot(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("HandleChatbot() status = %v, want %v, body %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			if tt.wantStatus != http.StatusOK {
				var res struct {
					Error string `json:"error"`
				}
				if err := json.NewDecoder(rr.Body).Decode(&res); err != nil || res.Error == "" {
					t.Errorf("error body = %v, %v, want an error message", res, err)
				}
				return
			}

			var res models.ChatResponse
			if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
				t.Fatal(err)
			}
			if len(res.Choices) != 1 {
				t.Fatalf("choices = %d, want 1", len(res.Choices))
			}
			got := res.Choices[0].Message
			if got.Role != models.RoleAssistant || got.Content != tt.wantReply {
				t.Errorf("reply = %+v, want assistant %q", got, tt.wantReply)
			}
			if len(tt.upstream.calls) != 1 || len(tt.upstream.calls[0]) != 2 {
				t.Errorf("upstream calls = %v, want one call with 2 messages", tt.upstream.calls)
			}
		})
	}
}

func TestHandleHighlightCSS(t *testing.T) {
	rr := httptest.NewRecorder()
	handlers.HandleHighlightCSS(render.NewHighlighter("github"))(rr, httptest.NewRequest(http.MethodGet, "/static/highlight.css", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/css") {
		t.Errorf("Content-Type = %q, want text/css", ct)
	}
	if !strings.Contains(rr.Body.String(), ".chroma") {
		t.Error("stylesheet should contain chroma classes")
	}
}

func TestHandleChatsSeparatePages(t *testing.T) {
	completer := &mockCompleter{reply: "Reply", release: make(chan struct{})}
	main, sessions := newTestMain(t, completer, nil)

	pageA := openPage(t, main)
	pageB := openPage(t, main)
	storeA, okA := sessions.Get(pageA)
	storeB, okB := sessions.Get(pageB)
	if !okA || !okB {
		t.Fatal("both pages should keep their session")
	}

	rr := postMessage(main, pageA, "From A")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", rr.Code, http.StatusOK)
	}
	if storeB.IsSubmitting() {
		t.Error("a message sent from page A should not reach page B")
	}
	if body := getHistory(main, pageB).Body.String(); strings.Contains(body, "From A") {
		t.Errorf("page B history should not contain page A's message, got %s", body)
	}

	// Page B is not blocked by the submission in flight on page A.
	if rr := postMessage(main, pageB, "From B"); rr.Code != http.StatusOK {
		t.Errorf("page B status = %v, want %v", rr.Code, http.StatusOK)
	}

	close(completer.release)
	waitFor(t, func() bool { return !storeA.IsSubmitting() && !storeB.IsSubmitting() })

	gotA, gotB := storeA.Messages(), storeB.Messages()
	if len(gotA) != 3 || gotA[1].Content != "From A" {
		t.Errorf("page A transcript = %+v", gotA)
	}
	if len(gotB) != 3 || gotB[1].Content != "From B" {
		t.Errorf("page B transcript = %+v", gotB)
	}
}

func TestHandleSSE(t *testing.T) {
	t.Run("Unknown session", func(t *testing.T) {
		main, _ := newTestMain(t, &mockCompleter{}, nil)

		for _, target := range []string{"/sse", "/sse?session=unknown"} {
			rr := httptest.NewRecorder()
			main.HandleSSE(rr, httptest.NewRequest(http.MethodGet, target, nil))
			if rr.Code != http.StatusNotFound {
				t.Errorf("%s status = %v, want %v", target, rr.Code, http.StatusNotFound)
			}
		}
	})

	t.Run("Events reach their own session only", func(t *testing.T) {
		completer := &mockCompleter{reply: "Hi there", release: make(chan struct{})}
		main, _ := newTestMain(t, completer, nil)
		srv := newTestServer(t, main)

		pageA := openPage(t, main)
		pageB := openPage(t, main)
		eventsA := subscribe(t, srv.URL, pageA)
		eventsB := subscribe(t, srv.URL, pageB)

		initial := waitForEvent(t, eventsA, historyVersion("0"))
		if !strings.Contains(initial.Data, "Chat baseline") {
			t.Errorf("initial history should contain the baseline, got %s", initial.Data)
		}
		waitForEvent(t, eventsB, historyVersion("0"))

		// Let both streams finish subscribing to their topics.
		time.Sleep(50 * time.Millisecond)

		if rr := postMessage(main, pageA, "Hello"); rr.Code != http.StatusOK {
			t.Fatalf("status = %v, want %v", rr.Code, http.StatusOK)
		}
		close(completer.release)

		resolved := waitForEvent(t, eventsA, historyVersion("2"))
		for _, want := range []string{"Hello", "Hi there", `data-submitting="false"`} {
			if !strings.Contains(resolved.Data, want) {
				t.Errorf("resolved history should contain %q, got %s", want, resolved.Data)
			}
		}

		select {
		case ev := <-eventsB:
			t.Errorf("page B received an event of page A: %s %s", ev.Type, ev.Data)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestShutdown(t *testing.T) {
	completer := &mockCompleter{release: make(chan struct{})}
	main, sessions := newTestMain(t, completer, nil)
	srv := newTestServer(t, main)

	sessionID := openPage(t, main)
	store, _ := sessions.Get(sessionID)
	events := subscribe(t, srv.URL, sessionID)
	waitForEvent(t, events, historyVersion("0"))
	time.Sleep(50 * time.Millisecond)

	if rr := postMessage(main, sessionID, "Hello"); rr.Code != http.StatusOK {
		t.Fatalf("status = %v, want %v", rr.Code, http.StatusOK)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- main.Shutdown(context.Background())
	}()

	waitForEvent(t, events, func(ev sse.Event) bool { return ev.Type == "closeChat" })
	if err := <-errs; err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	// The submission in flight is cancelled rather than left waiting on the completion service.
	waitFor(t, func() bool { return !store.IsSubmitting() })
	if err := store.LastError(); !errors.Is(err, context.Canceled) {
		t.Errorf("LastError() = %v, want context.Canceled", err)
	}
	if n := len(store.Messages()); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}
}
