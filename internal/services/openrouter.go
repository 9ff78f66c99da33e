package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
)

// OpenRouter provides an implementation of the completion client for OpenRouter's chat completions API.
type OpenRouter struct {
	apiKey   string
	endpoint string
	model    string

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model            string              `json:"model"`
	Messages         []openRouterMessage `json:"messages"`
	Stream           bool                `json:"stream"`
	Temperature      *float32            `json:"temperature,omitempty"`
	TopP             *float32            `json:"top_p,omitempty"`
	Stop             []string            `json:"stop,omitempty"`
	PresencePenalty  *float32            `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float32            `json:"frequency_penalty,omitempty"`
	Seed             *int                `json:"seed,omitempty"`
	MaxTokens        *int                `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterResponse struct {
	Choices []openRouterChoice `json:"choices"`
}

type openRouterChoice struct {
	Message openRouterMessage `json:"message"`
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"
)

// NewOpenRouter creates a new OpenRouter instance with the specified API key and default model. An
// empty baseURL targets openrouter.ai.
func NewOpenRouter(
	apiKey, baseURL, model string,
	params LLMParameters,
	timeout time.Duration,
	logger *slog.Logger,
) OpenRouter {
	if baseURL == "" {
		baseURL = openRouterAPIEndpoint
	}

	return OpenRouter{
		apiKey:   apiKey,
		endpoint: strings.TrimSuffix(baseURL, "/") + "/chat/completions",
		model:    model,
		params:   params,
		client:   newHTTPClient(timeout),
		logger:   logger.With(slog.String("module", "openrouter")),
	}
}

// Complete sends the transcript to OpenRouter and returns the first choice.
func (o OpenRouter) Complete(
	ctx context.Context,
	model string,
	messages []models.ChatMessage,
) (models.ChatMessage, error) {
	msgs := make([]openRouterMessage, len(messages))
	for i, msg := range messages {
		msgs[i] = openRouterMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	reqBody := openRouterChatRequest{
		Model:            pickModel(model, o.model),
		Messages:         msgs,
		Temperature:      o.params.Temperature,
		TopP:             o.params.TopP,
		Stop:             o.params.Stop,
		PresencePenalty:  o.params.PresencePenalty,
		FrequencyPenalty: o.params.FrequencyPenalty,
		Seed:             o.params.Seed,
		MaxTokens:        o.params.MaxTokens,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return models.ChatMessage{}, failedWith("error marshaling request", err)
	}

	o.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return models.ChatMessage{}, failedWith("error creating request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/chatbot-web-ui/")
	req.Header.Set("X-Title", "Chatbot Web UI")

	resp, err := o.client.Do(req)
	if err != nil {
		return models.ChatMessage{}, failedWith("error sending request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return models.ChatMessage{}, failed("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var res openRouterResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.ChatMessage{}, failedWith("error decoding response", err)
	}

	if len(res.Choices) == 0 {
		return models.ChatMessage{}, failed("no choices found")
	}

	return assistantMessage(res.Choices[0].Message.Content), nil
}
