package models

import (
	"encoding/json"
	"fmt"
)

// ChatMessage represents a single turn of a conversation. It carries the role of the participant that
// produced it and the raw text content. Messages are values: once appended to a transcript they are
// never mutated, and their position in the transcript reflects the chronological turn order.
type ChatMessage struct {
	Role    Role   `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleSystem represents the baseline instruction that opens a transcript.
	RoleSystem Role = "system"
	// RoleUser represents a message typed by the person using the chat.
	RoleUser Role = "user"
	// RoleAssistant represents a reply produced by the completion service.
	RoleAssistant Role = "assistant"
)

// ParseRole converts s into one of the known roles. Any other value is an error.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSystem, RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// UnmarshalJSON rejects roles outside of the fixed set, so a decoded transcript never carries a role
// the renderer doesn't know how to display.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	role, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// ChatRequest is the body exchanged with the chatbot endpoint: the model identifier and the full
// transcript including the new user turn.
type ChatRequest struct {
	Model    string        `json:"model" validate:"required"`
	Messages []ChatMessage `json:"messages" validate:"required,min=1,dive"`
}

// ChatResponse is the completion payload returned by the chatbot endpoint. The service may return
// several candidate completions; callers only ever use the first one.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
}

// Choice is one candidate completion.
type Choice struct {
	Message ChatMessage `json:"message"`
}
