package textview

import (
	"log/slog"
	"strings"
)

// DrawOp is one run of text the renderer must draw. Runs never span lines
// and are split at selection boundaries so the renderer can paint the
// selected background without measuring text itself.
type DrawOp struct {
	// Row is the viewport row (0 = top of the visible area).
	Row int
	// X is the pixel offset of the run within its line.
	X float64
	// Text is the run's content.
	Text string
	// Selected marks runs inside the active selection.
	Selected bool
}

// View is the scrollable dialogue log widget. It owns the layout, the scroll
// offset and the selection, and exposes pure state transitions the render
// loop drives once per frame. Not safe for concurrent use; the render loop
// is its single owner.
type View struct {
	engine     Engine
	clip       Clipboard
	lineHeight float64

	content  string
	layout   *Layout
	widthPx  float64
	rows     int
	offset   int // first visible line
	sel      Selection
	dragging bool
}

// NewView creates a view rendering at most rows lines of widthPx-wide text.
// lineHeight is the pixel height of one row, used to map pointer positions
// to lines.
func NewView(engine Engine, clip Clipboard, widthPx float64, rows int, lineHeight float64) *View {
	v := &View{
		engine:     engine,
		clip:       clip,
		widthPx:    widthPx,
		rows:       rows,
		lineHeight: lineHeight,
	}
	v.layout = v.engine.Compute("", widthPx)
	return v
}

// SetContent replaces the whole text, invalidating the selection and
// scrolling to the bottom.
func (v *View) SetContent(text string) {
	v.content = text
	v.layout = v.engine.Compute(text, v.widthPx)
	v.sel.Clear()
	v.dragging = false
	v.offset = v.maxOffset()
}

// AppendContent adds text at the end. Only the trailing paragraph is laid
// out again; lines closed by an earlier hard newline keep their geometry.
// When the view was pinned to the bottom it stays pinned; otherwise the
// scroll position is preserved (clamped). The selection is invalidated
// because cluster indices past the tail shift with reflow.
func (v *View) AppendContent(text string) {
	if text == "" {
		return
	}
	pinned := v.offset == v.maxOffset()
	v.content += text
	v.layout = v.engine.Append(v.layout, text)
	v.sel.Clear()
	v.dragging = false
	if pinned {
		v.offset = v.maxOffset()
	} else {
		v.offset = v.clampOffset(v.offset)
	}
}

// Resize changes the viewport geometry and reflows. Bottom pinning is
// preserved across the reflow; the selection is invalidated.
func (v *View) Resize(widthPx float64, rows int) {
	pinned := v.offset == v.maxOffset()
	v.widthPx = widthPx
	v.rows = rows
	v.layout = v.engine.Compute(v.content, v.widthPx)
	v.sel.Clear()
	v.dragging = false
	if pinned {
		v.offset = v.maxOffset()
	} else {
		v.offset = v.clampOffset(v.offset)
	}
}

// ScrollBy moves the viewport by delta lines (positive = down).
func (v *View) ScrollBy(delta int) {
	v.offset = v.clampOffset(v.offset + delta)
}

// PageUp scrolls up one viewport height.
func (v *View) PageUp() { v.ScrollBy(-v.rows) }

// PageDown scrolls down one viewport height.
func (v *View) PageDown() { v.ScrollBy(v.rows) }

// ScrollToBottom pins the view to the newest line.
func (v *View) ScrollToBottom() { v.offset = v.maxOffset() }

// PointerDown starts a selection drag at viewport pixel coordinates.
func (v *View) PointerDown(x, y float64) {
	v.dragging = true
	v.sel.Begin(v.hit(x, y))
}

// PointerMove extends the selection while dragging.
func (v *View) PointerMove(x, y float64) {
	if !v.dragging {
		return
	}
	v.sel.Extend(v.hit(x, y))
}

// PointerUp ends the drag. A click without movement clears the selection.
func (v *View) PointerUp(x, y float64) {
	if !v.dragging {
		return
	}
	v.sel.Extend(v.hit(x, y))
	v.sel.Release()
	v.dragging = false
}

// CopySelection writes the selected text to the clipboard and returns it.
// With no selection it does nothing. Clipboard failures are logged and
// otherwise ignored; copying is best-effort.
func (v *View) CopySelection() string {
	start, end, ok := v.sel.Range()
	if !ok {
		return ""
	}
	text := v.layout.Slice(start, end)
	if v.clip != nil {
		if err := v.clip.WriteAll(text); err != nil {
			slog.Warn("clipboard write failed", "error", err)
		}
	}
	return text
}

// Paste reads the clipboard for insertion into an input field. A read
// failure is a silent no-op returning "", so a missing clipboard tool never
// surfaces as an error to the player.
func (v *View) Paste() string {
	if v.clip == nil {
		return ""
	}
	text, err := v.clip.ReadAll()
	if err != nil {
		slog.Warn("clipboard read failed", "error", err)
		return ""
	}
	return text
}

// Selection exposes the normalized selected cluster range for tests and
// renderers.
func (v *View) Selection() (start, end int, ok bool) { return v.sel.Range() }

// Render produces the draw list for the visible lines. Trailing newline
// clusters are not emitted; selection state splits runs.
func (v *View) Render() []DrawOp {
	var ops []DrawOp
	selStart, selEnd, hasSel := v.sel.Range()

	last := v.offset + v.rows
	if last > len(v.layout.Lines) {
		last = len(v.layout.Lines)
	}
	for li := v.offset; li < last; li++ {
		line := v.layout.Lines[li]
		row := li - v.offset

		x := 0.0
		var run strings.Builder
		runX := 0.0
		runSelected := false

		emit := func() {
			if run.Len() > 0 {
				ops = append(ops, DrawOp{Row: row, X: runX, Text: run.String(), Selected: runSelected})
				run.Reset()
			}
		}

		for i := line.Start; i < line.End; i++ {
			c := v.layout.Clusters[i]
			if c.Newline {
				continue
			}
			selected := hasSel && i >= selStart && i < selEnd
			if run.Len() == 0 {
				runX = x
				runSelected = selected
			} else if selected != runSelected {
				emit()
				runX = x
				runSelected = selected
			}
			run.WriteString(c.Text)
			x += c.Advance
		}
		emit()
	}
	return ops
}

// hit maps viewport pixel coordinates to a cluster index, accounting for the
// scroll offset.
func (v *View) hit(x, y float64) int {
	row := v.offset
	if v.lineHeight > 0 {
		row += int(y / v.lineHeight)
	}
	return v.layout.HitTest(row, x)
}

func (v *View) maxOffset() int {
	m := len(v.layout.Lines) - v.rows
	if m < 0 {
		return 0
	}
	return m
}

func (v *View) clampOffset(off int) int {
	if off < 0 {
		return 0
	}
	if m := v.maxOffset(); off > m {
		return m
	}
	return off
}
