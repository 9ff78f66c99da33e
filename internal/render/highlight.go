package render

import (
	"fmt"
	"io"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter renders code segments as syntax highlighted HTML. Token colours are emitted as CSS
// classes, the matching stylesheet is available through WriteCSS.
type Highlighter struct {
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

// NewHighlighter creates a Highlighter using the named chroma style. Unknown style names fall back to
// chroma's default style.
func NewHighlighter(styleName string) Highlighter {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}

	return Highlighter{
		style: style,
		formatter: chromahtml.New(
			chromahtml.WithClasses(true),
			chromahtml.TabWidth(4),
		),
	}
}

// Highlight writes code as highlighted HTML to w. The lexer is picked by language; when the language
// is unknown it is guessed from the code itself, and plain text is used as the last resort.
func (h Highlighter) Highlight(w io.Writer, language, code string) error {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return fmt.Errorf("failed to tokenise %s code: %w", language, err)
	}

	if err := h.formatter.Format(w, h.style, iterator); err != nil {
		return fmt.Errorf("failed to format %s code: %w", language, err)
	}
	return nil
}

// WriteCSS writes the stylesheet for the classes emitted by Highlight.
func (h Highlighter) WriteCSS(w io.Writer) error {
	return h.formatter.WriteCSS(w, h.style)
}
