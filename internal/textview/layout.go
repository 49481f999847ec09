// Package textview lays out, scrolls and selects mixed Latin/CJK text for
// the dialogue log. Layout is pure geometry over abstract advance widths;
// no font rasterisation happens here.
//
// The unit of layout, hit testing and selection is the grapheme cluster
// (uniseg), never the byte or the rune, so combining sequences and emoji
// survive wrapping and copying intact.
package textview

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Script classifies a cluster for line-breaking purposes.
type Script int

const (
	// ScriptLatin covers everything that wraps at word boundaries.
	ScriptLatin Script = iota
	// ScriptCJK covers ideographs and kana, which may break between any two
	// clusters.
	ScriptCJK
)

// AdvanceFunc reports the pixel advance of one grapheme cluster. ok=false
// means the font has no glyph for it; layout then substitutes the engine's
// fallback width rather than failing.
type AdvanceFunc func(cluster string) (width float64, ok bool)

// Cluster is one grapheme cluster with its resolved advance.
type Cluster struct {
	Text    string
	Script  Script
	Advance float64
	// Newline marks a hard line break. It has zero advance and terminates
	// its line, but still occupies a cluster index so selections copy the
	// break.
	Newline bool
}

// Line is a laid-out row addressing the flattened cluster sequence.
// [Start, End) indexes into Layout.Clusters.
type Line struct {
	Start, End int
	Width      float64
}

// Layout is the result of laying text out at one width. Immutable.
type Layout struct {
	Clusters []Cluster
	Lines    []Line
	MaxWidth float64
}

// Engine computes layouts. The zero value is unusable; set Advance.
type Engine struct {
	// Advance resolves cluster widths.
	Advance AdvanceFunc

	// FallbackWidth replaces the advance of clusters the font cannot
	// measure. Zero selects a default of 10.
	FallbackWidth float64
}

const defaultFallbackWidth = 10

// Compute lays out text at maxWidth. Latin breaks only at whitespace and
// after hyphens; CJK breaks between any two clusters; a single unbreakable
// unit wider than maxWidth is placed alone on its line and overflows. The
// result is deterministic for identical inputs.
func (e *Engine) Compute(text string, maxWidth float64) *Layout {
	l := &Layout{MaxWidth: maxWidth}
	l.Clusters = e.clusters(text)

	lineStart := 0
	var lineWidth float64

	flush := func(end int) {
		l.Lines = append(l.Lines, Line{Start: lineStart, End: end, Width: lineWidth})
		lineStart = end
		lineWidth = 0
	}

	i := 0
	for i < len(l.Clusters) {
		if l.Clusters[i].Newline {
			// The newline cluster closes its line.
			flush(i + 1)
			i++
			continue
		}

		// A unit is the smallest indivisible run starting at i.
		end, width := l.unitAt(i)

		if lineWidth+width <= maxWidth || lineStart == i {
			// Fits, or the line is empty and the unit goes alone
			// (possibly overflowing).
			lineWidth += width
			i = end
			continue
		}

		if isSpaceCluster(l.Clusters[i]) {
			// A space at the wrap point stays on the current line even if
			// it overflows; it would be invisible at the start of the next.
			lineWidth += width
			flush(end)
			i = end
			continue
		}
		flush(i)
	}
	if lineStart < len(l.Clusters) || len(l.Lines) == 0 {
		flush(len(l.Clusters))
	}
	return l
}

// Append lays out prev's text followed by added, reusing prev's geometry.
// A hard newline resets the wrapping state, so every line closed at or
// before the last newline cluster is carried over untouched and only the
// trailing paragraph plus the added text is laid out again. The result is
// identical to Compute over the concatenated text at prev.MaxWidth.
func (e *Engine) Append(prev *Layout, added string) *Layout {
	if added == "" {
		return prev
	}
	k := lastNewline(prev.Clusters)
	if k < 0 {
		return e.Compute(prev.Slice(0, len(prev.Clusters))+added, prev.MaxWidth)
	}
	tail := e.Compute(prev.Slice(k+1, len(prev.Clusters))+added, prev.MaxWidth)

	out := &Layout{MaxWidth: prev.MaxWidth}
	out.Clusters = append(out.Clusters, prev.Clusters[:k+1]...)
	out.Clusters = append(out.Clusters, tail.Clusters...)
	for _, line := range prev.Lines {
		if line.End <= k+1 {
			out.Lines = append(out.Lines, line)
		}
	}
	for _, line := range tail.Lines {
		out.Lines = append(out.Lines, Line{
			Start: line.Start + k + 1,
			End:   line.End + k + 1,
			Width: line.Width,
		})
	}
	return out
}

// lastNewline returns the index of the last hard-break cluster, or -1.
func lastNewline(clusters []Cluster) int {
	for i := len(clusters) - 1; i >= 0; i-- {
		if clusters[i].Newline {
			return i
		}
	}
	return -1
}

// clusters flattens text into measured grapheme clusters.
func (e *Engine) clusters(text string) []Cluster {
	fallback := e.FallbackWidth
	if fallback <= 0 {
		fallback = defaultFallbackWidth
	}

	var out []Cluster
	g := uniseg.NewGraphemes(text)
	for g.Next() {
		s := g.Str()
		if s == "\n" {
			out = append(out, Cluster{Text: s, Newline: true})
			continue
		}
		w, ok := e.Advance(s)
		if !ok {
			w = fallback
		}
		out = append(out, Cluster{Text: s, Script: scriptOf(s), Advance: w})
	}
	return out
}

// unitAt returns the end index (exclusive) and width of the unbreakable unit
// starting at cluster i. CJK clusters and whitespace are units of one; a
// Latin unit extends to the next whitespace, CJK cluster or newline, and
// also ends just after a hyphen.
func (l *Layout) unitAt(i int) (end int, width float64) {
	c := l.Clusters[i]
	if c.Script == ScriptCJK || isSpaceCluster(c) {
		return i + 1, c.Advance
	}
	end = i
	for end < len(l.Clusters) {
		cc := l.Clusters[end]
		if cc.Newline || cc.Script == ScriptCJK || isSpaceCluster(cc) {
			break
		}
		width += cc.Advance
		end++
		if strings.HasSuffix(cc.Text, "-") {
			break
		}
	}
	return end, width
}

// HitTest maps a point to the nearest cluster index. row is the laid-out
// line number; x is the pixel offset within the line. Points past either
// line edge clamp to the nearest cluster boundary of that line; rows outside
// the layout clamp to the first or last line.
func (l *Layout) HitTest(row int, x float64) int {
	if len(l.Lines) == 0 {
		return 0
	}
	if row < 0 {
		row = 0
	}
	if row >= len(l.Lines) {
		row = len(l.Lines) - 1
	}
	line := l.Lines[row]

	pos := 0.0
	for i := line.Start; i < line.End; i++ {
		c := l.Clusters[i]
		if c.Newline {
			return i
		}
		// Snap to whichever cluster edge is closer.
		if x < pos+c.Advance/2 {
			return i
		}
		pos += c.Advance
	}
	return line.End
}

// LineOf returns the row containing the cluster index, clamping out-of-range
// indices to the first or last line.
func (l *Layout) LineOf(cluster int) int {
	for i, line := range l.Lines {
		if cluster < line.End {
			return i
		}
	}
	return len(l.Lines) - 1
}

// Slice returns the text of clusters [start, end).
func (l *Layout) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(l.Clusters) {
		end = len(l.Clusters)
	}
	var sb strings.Builder
	for i := start; i < end; i++ {
		sb.WriteString(l.Clusters[i].Text)
	}
	return sb.String()
}

// scriptOf classifies a cluster by its first rune.
func scriptOf(cluster string) Script {
	for _, r := range cluster {
		if isCJKRune(r) {
			return ScriptCJK
		}
		return ScriptLatin
	}
	return ScriptLatin
}

func isCJKRune(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0x3040 && r <= 0x309F) || // Hiragana
		(r >= 0x30A0 && r <= 0x30FF) || // Katakana
		(r >= 0xAC00 && r <= 0xD7AF) || // Hangul Syllables
		(r >= 0xFF00 && r <= 0xFFEF) // Fullwidth forms
}

func isSpaceCluster(c Cluster) bool {
	if c.Newline {
		return false
	}
	for _, r := range c.Text {
		return r == ' ' || r == '\t' || r == '　'
	}
	return false
}
