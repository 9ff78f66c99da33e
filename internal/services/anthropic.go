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

// Anthropic provides an implementation of the completion client for the Anthropic messages API.
type Anthropic struct {
	apiKey    string
	endpoint  string
	model     string
	maxTokens int

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float32           `json:"temperature,omitempty"`
	TopP          *float32           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
	anthropicVersion     = "2023-06-01"
)

// NewAnthropic creates a new Anthropic instance with the specified API key, default model and maximum
// token limit. An empty baseURL targets the public Anthropic API.
func NewAnthropic(
	apiKey, baseURL, model string,
	maxTokens int,
	params LLMParameters,
	timeout time.Duration,
	logger *slog.Logger,
) Anthropic {
	if baseURL == "" {
		baseURL = anthropicAPIEndpoint
	}

	return Anthropic{
		apiKey:    apiKey,
		endpoint:  strings.TrimSuffix(baseURL, "/") + "/messages",
		model:     model,
		maxTokens: maxTokens,
		params:    params,
		client:    newHTTPClient(timeout),
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

// extractSystemMessage lifts the leading system message out of the transcript, since the messages API
// takes it as a separate field.
func extractSystemMessage(messages []models.ChatMessage) (string, []models.ChatMessage) {
	if len(messages) == 0 {
		return "", messages
	}

	if messages[0].Role == models.RoleSystem {
		return messages[0].Content, messages[1:]
	}

	return "", messages
}

// Complete sends the transcript to the Anthropic messages API and joins the text blocks of the reply.
func (a Anthropic) Complete(
	ctx context.Context,
	model string,
	messages []models.ChatMessage,
) (models.ChatMessage, error) {
	systemMessage, ms := extractSystemMessage(messages)

	msgs := make([]anthropicMessage, len(ms))
	for i, msg := range ms {
		msgs[i] = anthropicMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
	}

	maxTokens := a.maxTokens
	if a.params.MaxTokens != nil {
		maxTokens = *a.params.MaxTokens
	}

	jsonBody, err := json.Marshal(anthropicChatRequest{
		Model:         pickModel(model, a.model),
		Messages:      msgs,
		System:        systemMessage,
		MaxTokens:     maxTokens,
		Temperature:   a.params.Temperature,
		TopP:          a.params.TopP,
		StopSequences: a.params.Stop,
	})
	if err != nil {
		return models.ChatMessage{}, failedWith("error marshaling request", err)
	}

	a.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return models.ChatMessage{}, failedWith("error creating request", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.client.Do(req)
	if err != nil {
		return models.ChatMessage{}, failedWith("error sending request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		var e anthropicError
		if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
			return models.ChatMessage{}, failed("anthropic error %s: %s", e.Error.Type, e.Error.Message)
		}
		return models.ChatMessage{}, failed("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var res anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.ChatMessage{}, failedWith("error decoding response", err)
	}

	var sb strings.Builder
	for _, block := range res.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return models.ChatMessage{}, failed("no text content found in %d blocks", len(res.Content))
	}

	return assistantMessage(sb.String()), nil
}
