package dialogue

import (
	"strings"

	"golang.org/x/text/language"
)

// Span is a run of reply text in a single language, ready for one synthesis
// call.
type Span struct {
	Text string
	Lang language.Tag
}

// Marker syntax accepted in NPC replies. The current services emit
// [JA:...]; older ones wrapped Japanese as [JP_ORIGINAL:...:JP_ORIGINAL].
const (
	jaOpen      = "[JA:"
	jaClose     = "]"
	legacyOpen  = "[JP_ORIGINAL:"
	legacyClose = ":JP_ORIGINAL]"
)

// SplitSpans cuts a reply into per-language spans, in original order.
// Marked regions become Japanese spans; unmarked regions are classified by
// content, so unmarked Japanese still reaches the Japanese voice. Empty
// spans are dropped.
func SplitSpans(text string) []Span {
	var spans []Span
	emit := func(s string, lang language.Tag) {
		s = strings.TrimSpace(s)
		if s != "" {
			spans = append(spans, Span{Text: s, Lang: lang})
		}
	}
	emitUnmarked := func(s string) {
		if containsJapanese(s) {
			emit(s, language.Japanese)
		} else {
			emit(s, language.English)
		}
	}

	rest := text
	for {
		start, next, body := nextMarker(rest)
		if start < 0 {
			emitUnmarked(rest)
			return spans
		}
		emitUnmarked(rest[:start])
		emit(body, language.Japanese)
		rest = rest[next:]
	}
}

// Strip returns the display form of a reply: marker syntax removed, marked
// text kept in place.
func Strip(text string) string {
	var sb strings.Builder
	rest := text
	for {
		start, next, body := nextMarker(rest)
		if start < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		sb.WriteString(rest[:start])
		sb.WriteString(body)
		rest = rest[next:]
	}
}

// nextMarker finds the first language marker in text. It returns the byte
// offset of the marker, the offset just past it, and the marked body;
// start = -1 when no marker remains. Unterminated markers are left as plain
// text.
func nextMarker(text string) (start, next int, body string) {
	ja := strings.Index(text, jaOpen)
	legacy := strings.Index(text, legacyOpen)

	// The legacy open token contains "[J" too; pick whichever starts first,
	// preferring the longer match at the same position.
	useLegacy := legacy >= 0 && (ja < 0 || legacy <= ja)
	if useLegacy {
		end := strings.Index(text[legacy+len(legacyOpen):], legacyClose)
		if end < 0 {
			return -1, 0, ""
		}
		bodyStart := legacy + len(legacyOpen)
		return legacy, bodyStart + end + len(legacyClose), text[bodyStart : bodyStart+end]
	}
	if ja < 0 {
		return -1, 0, ""
	}
	end := strings.Index(text[ja+len(jaOpen):], jaClose)
	if end < 0 {
		return -1, 0, ""
	}
	bodyStart := ja + len(jaOpen)
	return ja, bodyStart + end + len(jaClose), text[bodyStart : bodyStart+end]
}

// containsJapanese reports whether any rune sits in the Hiragana, Katakana
// or CJK ideograph blocks.
func containsJapanese(s string) bool {
	for _, r := range s {
		if (r >= 0x3040 && r <= 0x309F) || // Hiragana
			(r >= 0x30A0 && r <= 0x30FF) || // Katakana
			(r >= 0x4E00 && r <= 0x9FFF) { // CJK Unified Ideographs
			return true
		}
	}
	return false
}
