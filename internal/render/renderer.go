package render

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer converts message content to HTML. Text segments are formatted as markdown, code segments
// are syntax highlighted. Since Segments is pure, rendered fragments are cached by their content.
type Renderer struct {
	highlighter Highlighter
	markdown    goldmark.Markdown

	// cache is nil when caching is disabled.
	cache *lru.Cache[string, template.HTML]
}

// NewRenderer creates a Renderer that highlights code with the given Highlighter and keeps up to
// cacheCap rendered messages in memory. A cacheCap of zero disables the cache.
func NewRenderer(highlighter Highlighter, cacheCap int) *Renderer {
	var cache *lru.Cache[string, template.HTML]
	if cacheCap > 0 {
		// New only fails for a non-positive size.
		cache, _ = lru.New[string, template.HTML](cacheCap)
	}

	return &Renderer{
		highlighter: highlighter,
		// Raw HTML inside messages is omitted, since goldmark is not configured as unsafe.
		markdown: goldmark.New(
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
		cache: cache,
	}
}

// HTML renders content into a safe HTML fragment.
func (r *Renderer) HTML(content string) (template.HTML, error) {
	if h, ok := r.cached(content); ok {
		return h, nil
	}

	var buf bytes.Buffer
	for _, seg := range Segments(content) {
		switch seg.Kind {
		case models.SegmentKindText:
			buf.WriteString(`<div class="segment-text">`)
			if err := r.markdown.Convert([]byte(seg.Content), &buf); err != nil {
				return "", fmt.Errorf("failed to convert text segment: %w", err)
			}
			buf.WriteString(`</div>`)
		case models.SegmentKindCode:
			fmt.Fprintf(&buf, `<div class="segment-code" data-language="%s">`, template.HTMLEscapeString(seg.Language))
			if err := r.highlighter.Highlight(&buf, seg.Language, seg.Content); err != nil {
				return "", err
			}
			buf.WriteString(`</div>`)
		}
	}

	h := template.HTML(buf.String())
	r.store(content, h)
	return h, nil
}

func (r *Renderer) cached(content string) (template.HTML, bool) {
	if r.cache == nil {
		return "", false
	}
	return r.cache.Get(content)
}

func (r *Renderer) store(content string, h template.HTML) {
	if r.cache == nil {
		return
	}
	r.cache.Add(content, h)
}
