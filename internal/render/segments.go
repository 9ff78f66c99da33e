// Package render turns chat messages into HTML fragments. It splits message content into plain text
// and fenced code regions, highlights the code, formats the prose and picks the presentation variant
// for each message role.
package render

import (
	"strings"

	"github.com/MegaGrindStone/chatbot-web-ui/internal/models"
)

// DefaultLanguage is used for a fenced region that carries no language tag.
const DefaultLanguage = "javascript"

const fence = "```"

// Segments splits content into alternating text and code segments, in order of appearance.
//
// A fenced region starts with three backticks, followed by an optional language tag made of letters,
// digits, underscores and dashes, and a mandatory newline. The region ends at the first newline that is
// immediately followed by three backticks; that newline is not part of the code. Fences that are never
// closed, or whose tag is followed by anything other than a newline, stay in the surrounding text.
//
// Content without any fenced region comes back as a single text segment. Empty content yields no
// segments at all.
func Segments(content string) []models.Segment {
	if content == "" {
		return nil
	}

	var segments []models.Segment
	last := 0
	for pos := 0; pos < len(content); {
		start, lang, body, end, ok := nextFence(content, pos)
		if !ok {
			break
		}
		if start > last {
			segments = append(segments, models.Segment{
				Kind:    models.SegmentKindText,
				Content: content[last:start],
			})
		}
		if lang == "" {
			lang = DefaultLanguage
		}
		segments = append(segments, models.Segment{
			Kind:     models.SegmentKindCode,
			Language: lang,
			Content:  body,
		})
		last, pos = end, end
	}

	if last < len(content) {
		segments = append(segments, models.Segment{
			Kind:    models.SegmentKindText,
			Content: content[last:],
		})
	}
	return segments
}

// nextFence finds the first complete fenced region that starts at or after pos. It returns the offset
// of the opening marker, the language tag, the body and the offset right after the closing marker.
func nextFence(content string, pos int) (start int, lang, body string, end int, ok bool) {
	for pos < len(content) {
		idx := strings.Index(content[pos:], fence)
		if idx < 0 {
			return 0, "", "", 0, false
		}
		start = pos + idx

		tagStart := start + len(fence)
		tagEnd := tagStart
		for tagEnd < len(content) && isTagByte(content[tagEnd]) {
			tagEnd++
		}
		if tagEnd >= len(content) || content[tagEnd] != '\n' {
			// Not an opening marker here, but one may start a byte later (e.g. four backticks).
			pos = start + 1
			continue
		}

		bodyStart := tagEnd + 1
		closing := strings.Index(content[bodyStart:], "\n"+fence)
		if closing < 0 {
			// No later opening marker can be closed either.
			return 0, "", "", 0, false
		}

		bodyEnd := bodyStart + closing
		return start, content[tagStart:tagEnd], content[bodyStart:bodyEnd], bodyEnd + 1 + len(fence), true
	}
	return 0, "", "", 0, false
}

func isTagByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	}
	return false
}
