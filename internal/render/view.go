package render

import (
	"fmt"
	"html/template"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
)

// ViewKind is the presentation variant of a message.
type ViewKind string

const (
	// ViewKindBanner is a one-line advisory shown for the baseline system message.
	ViewKindBanner ViewKind = "banner"
	// ViewKindBubble is a directional speech bubble used for user and assistant turns.
	ViewKindBubble ViewKind = "bubble"
)

// BannerTitle is the heading shown above the system message.
const BannerTitle = "Chat baseline"

// MessageView is a message ready to be executed by the templates.
type MessageView struct {
	Kind ViewKind
	Role models.Role
	// Title would be filled if Kind is ViewKindBanner.
	Title string
	Body  template.HTML
}

// KindOf maps a role to its presentation variant.
func KindOf(role models.Role) (ViewKind, error) {
	switch role {
	case models.RoleSystem:
		return ViewKindBanner, nil
	case models.RoleUser, models.RoleAssistant:
		return ViewKindBubble, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}

// View prepares msg for display. The system message is shown verbatim, user and assistant messages go
// through the segment renderer.
func (r *Renderer) View(msg models.ChatMessage) (MessageView, error) {
	kind, err := KindOf(msg.Role)
	if err != nil {
		return MessageView{}, err
	}

	if kind == ViewKindBanner {
		return MessageView{
			Kind:  kind,
			Role:  msg.Role,
			Title: BannerTitle,
			Body:  template.HTML(template.HTMLEscapeString(msg.Content)),
		}, nil
	}

	body, err := r.HTML(msg.Content)
	if err != nil {
		return MessageView{}, fmt.Errorf("failed to render %s message: %w", msg.Role, err)
	}
	return MessageView{
		Kind: kind,
		Role: msg.Role,
		Body: body,
	}, nil
}

// Views prepares every message of a transcript for display, keeping their order.
func (r *Renderer) Views(msgs []models.ChatMessage) ([]MessageView, error) {
	views := make([]MessageView, len(msgs))
	for i, msg := range msgs {
		v, err := r.View(msg)
		if err != nil {
			return nil, err
		}
		views[i] = v
	}
	return views, nil
}
