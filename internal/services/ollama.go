package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the completion client for an Ollama server.
type Ollama struct {
	model string

	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and default model. The host
// must be a valid URL pointing to an Ollama server.
func NewOllama(host, model string, params LLMParameters, timeout time.Duration, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:  model,
		params: params,
		client: api.NewClient(u, newHTTPClient(timeout)),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Complete sends the transcript to Ollama's chat endpoint with streaming disabled, so the whole reply
// arrives in one response.
func (o Ollama) Complete(
	ctx context.Context,
	model string,
	messages []models.ChatMessage,
) (models.ChatMessage, error) {
	msgs := make([]api.Message, len(messages))
	for i, msg := range messages {
		msgs[i] = api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	f := false
	req := api.ChatRequest{
		Model:    pickModel(model, o.model),
		Messages: msgs,
		Stream:   &f,
		Options:  o.options(),
	}

	var sb strings.Builder
	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		sb.WriteString(res.Message.Content)
		return nil
	}); err != nil {
		return models.ChatMessage{}, failedWith("error sending request", err)
	}

	o.logger.Debug("Response", slog.Int("length", sb.Len()))

	return assistantMessage(sb.String()), nil
}

func (o Ollama) options() map[string]any {
	opts := map[string]any{}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		opts["presence_penalty"] = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *o.params.FrequencyPenalty
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
