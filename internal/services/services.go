// Package services contains the completion clients. Each client turns a transcript into exactly one
// request to a completion service and returns the top ranked assistant message.
package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
)

// ErrCompletionFailed is wrapped by every error returned from a completion client, whether the cause
// is the network, an unexpected status, a malformed body or an empty list of choices.
var ErrCompletionFailed = errors.New("completion failed")

// LLMParameters holds the optional sampling parameters forwarded to the providers. Nil fields are not
// sent, so the provider's own defaults apply.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	Stop             []string `yaml:"stop"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
	Seed             *int     `yaml:"seed"`
	MaxTokens        *int     `yaml:"maxTokens"`
}

const errLoggerKey = "err"

func failed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCompletionFailed, fmt.Sprintf(format, args...))
}

func failedWith(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCompletionFailed, msg, err)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func pickModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func assistantMessage(content string) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleAssistant, Content: content}
}
