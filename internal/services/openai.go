package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the completion client for OpenAI's chat completion API, or any
// API compatible with it when a base URL is given.
type OpenAI struct {
	model string

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key, base URL and default model. An
// empty base URL targets api.openai.com.
func NewOpenAI(
	apiKey, baseURL, model string,
	params LLMParameters,
	timeout time.Duration,
	logger *slog.Logger,
) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = newHTTPClient(timeout)

	return OpenAI{
		model:  model,
		params: params,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "openai")),
	}
}

func openAIMessages(messages []models.ChatMessage) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}
	return msgs
}

// Complete is a wrapper around the OpenAI chat completion API.
func (o OpenAI) Complete(
	ctx context.Context,
	model string,
	messages []models.ChatMessage,
) (models.ChatMessage, error) {
	req := o.chatRequest(pickModel(model, o.model), openAIMessages(messages))

	reqJSON, err := json.Marshal(req)
	if err == nil {
		o.logger.Debug("Request", slog.String("req", string(reqJSON)))
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return models.ChatMessage{}, failedWith("error sending request", err)
	}

	if len(resp.Choices) == 0 {
		return models.ChatMessage{}, failed("no choices found")
	}
	if len(resp.Choices) > 1 {
		o.logger.Debug("Received multiple choices, using the first one", slog.Int("count", len(resp.Choices)))
	}

	return assistantMessage(resp.Choices[0].Message.Content), nil
}

func (o OpenAI) chatRequest(model string, messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}

	return req
}
