// Package transcript holds the state of one conversation: the ordered messages exchanged so far and
// whether a submission is waiting on the completion service.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
)

// Completer produces the next assistant message for a transcript. Implementations issue exactly one
// request per call.
type Completer interface {
	Complete(ctx context.Context, model string, messages []models.ChatMessage) (models.ChatMessage, error)
}

// State is a snapshot of a Store, handed to the presentation layer.
type State struct {
	Messages   []models.ChatMessage
	Submitting bool
	// Pending is the text being submitted, empty when the store is idle.
	Pending string
	// Err is the failure of the latest submission, nil if it succeeded or none was made yet.
	Err error
	// Version increases with every state change, so snapshots can be ordered.
	Version uint64
}

// Store is the state container of a conversation. Submit, and its two-step form Begin, are its only
// mutators.
//
// The first message, when a baseline prompt is given, has the system role and is never removed. Every
// successful submission appends the user message followed by the assistant reply; a failed submission
// leaves the messages untouched.
type Store struct {
	completer Completer
	model     string

	mu         sync.Mutex
	messages   []models.ChatMessage
	submitting bool
	pending    string
	lastErr    error
	version    uint64
	observers  []func(State)

	logger *slog.Logger
}

var (
	// ErrEmptyMessage is returned when the submitted text is empty or whitespace only.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSubmissionInProgress is returned when a submission is made while another one is pending.
	ErrSubmissionInProgress = errors.New("a submission is already in progress")
	// ErrSubmissionFailed wraps any failure of the completion service.
	ErrSubmissionFailed = errors.New("submission failed")
)

const errLoggerKey = "err"

// New creates a Store whose transcript starts with baseline as the system message. An empty baseline
// starts the transcript empty.
func New(baseline string, completer Completer, model string, logger *slog.Logger) *Store {
	var msgs []models.ChatMessage
	if baseline != "" {
		msgs = append(msgs, models.ChatMessage{Role: models.RoleSystem, Content: baseline})
	}

	return &Store{
		completer: completer,
		model:     model,
		messages:  msgs,
		logger:    logger.With(slog.String("module", "transcript")),
	}
}

// OnChange registers fn to be called with a fresh snapshot every time a submission starts or
// resolves. Observers are called outside of the Store's lock, in registration order.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, fn)
}

// Submit sends text as a new user turn. It blocks until the completion service answers.
//
// On success the transcript grows by the user message and the assistant reply. On failure the error is
// logged, the transcript is kept as it was and the returned error wraps ErrSubmissionFailed. In both
// cases the store is no longer submitting when Submit returns. Empty text and overlapping submissions
// are rejected without contacting the service.
func (s *Store) Submit(ctx context.Context, text string) error {
	run, err := s.Begin(text)
	if err != nil {
		return err
	}
	return run(ctx)
}

// Begin validates text and marks the store as submitting. The returned function performs the call to
// the completion service and must be called exactly once; Submit is Begin followed by that call.
func (s *Store) Begin(text string) (func(ctx context.Context) error, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, ErrSubmissionInProgress
	}
	s.submitting = true
	s.pending = text
	s.lastErr = nil
	s.version++
	prior := slices.Clone(s.messages)
	s.mu.Unlock()
	s.notify()

	return func(ctx context.Context) error {
		return s.resolve(ctx, prior, text)
	}, nil
}

func (s *Store) resolve(ctx context.Context, prior []models.ChatMessage, text string) error {
	userMsg := models.ChatMessage{Role: models.RoleUser, Content: text}
	req := append(slices.Clip(prior), userMsg)

	reply, err := s.completer.Complete(ctx, s.model, req)

	s.mu.Lock()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		s.logger.Error("Failed to submit message",
			slog.Int("messages", len(prior)),
			slog.String(errLoggerKey, err.Error()))
		s.lastErr = err
	} else {
		if reply.Role != models.RoleAssistant {
			s.logger.Warn("Completion reply has unexpected role, treating it as assistant",
				slog.String("role", string(reply.Role)))
			reply.Role = models.RoleAssistant
		}
		s.messages = append(req, reply)
	}
	s.submitting = false
	s.pending = ""
	s.version++
	s.mu.Unlock()
	s.notify()

	return err
}

// Messages returns a copy of the transcript.
func (s *Store) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.messages)
}

// IsSubmitting reports whether a submission is waiting on the completion service.
func (s *Store) IsSubmitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.submitting
}

// LastError returns the failure of the latest submission, or nil.
func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastErr
}

// State returns a snapshot of the store.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state()
}

func (s *Store) state() State {
	return State{
		Messages:   slices.Clone(s.messages),
		Submitting: s.submitting,
		Pending:    s.pending,
		Err:        s.lastErr,
		Version:    s.version,
	}
}

func (s *Store) notify() {
	s.mu.Lock()
	st := s.state()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(st)
	}
}
