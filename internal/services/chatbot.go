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

// ChatbotPath is the path of the chatbot endpoint, relative to its base URL.
const ChatbotPath = "/api/chatbot"

// Chatbot is a client of a chatbot endpoint: it posts the model and the transcript as JSON and reads
// back a list of choices, of which only the first is used.
type Chatbot struct {
	endpoint string

	client *http.Client

	logger *slog.Logger
}

// NewChatbot creates a Chatbot that talks to the endpoint under baseURL. A zero timeout means requests
// never time out on the client side.
func NewChatbot(baseURL string, timeout time.Duration, logger *slog.Logger) Chatbot {
	return Chatbot{
		endpoint: strings.TrimSuffix(baseURL, "/") + ChatbotPath,
		client:   newHTTPClient(timeout),
		logger:   logger.With(slog.String("module", "chatbot")),
	}
}

// Complete implements transcript.Completer.
func (c Chatbot) Complete(
	ctx context.Context,
	model string,
	messages []models.ChatMessage,
) (models.ChatMessage, error) {
	jsonBody, err := json.Marshal(models.ChatRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return models.ChatMessage{}, failedWith("error marshaling request", err)
	}

	c.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return models.ChatMessage{}, failedWith("error creating request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.ChatMessage{}, failedWith("error sending request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.ChatMessage{}, failed("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var res models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return models.ChatMessage{}, failedWith("error decoding response", err)
	}
	if len(res.Choices) == 0 {
		return models.ChatMessage{}, failed("no choices found")
	}

	return res.Choices[0].Message, nil
}
