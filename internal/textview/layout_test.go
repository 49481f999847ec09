package textview

import (
	"strings"
	"testing"
)

// fixedAdvance gives Latin clusters 8px and CJK clusters 16px; '@' simulates
// a missing glyph.
func fixedAdvance(cluster string) (float64, bool) {
	if cluster == "@" {
		return 0, false
	}
	for _, r := range cluster {
		if isCJKRune(r) {
			return 16, true
		}
	}
	return 8, true
}

func testEngine() Engine {
	return Engine{Advance: fixedAdvance, FallbackWidth: 8}
}

// trimmedWidth is the line width excluding trailing whitespace clusters,
// which are allowed to hang past the wrap limit.
func trimmedWidth(l *Layout, line Line) float64 {
	end := line.End
	for end > line.Start && isSpaceCluster(l.Clusters[end-1]) {
		end--
	}
	var w float64
	for i := line.Start; i < end; i++ {
		w += l.Clusters[i].Advance
	}
	return w
}

func TestComputeWidthBound(t *testing.T) {
	e := testEngine()
	texts := []string{
		"The quick brown fox jumps over the lazy dog",
		"こんにちは、駅へようこそ。切符はあちらで買えます。",
		"Platform 2 のほうへ行ってください。Thank you! ありがとう",
	}
	for _, text := range texts {
		l := e.Compute(text, 100)
		for i, line := range l.Lines {
			if w := trimmedWidth(l, line); w > 100 {
				// Only a single oversized unit may overflow.
				unitEnd, _ := l.unitAt(line.Start)
				if unitEnd < line.End {
					t.Errorf("%q line %d: width %v exceeds 100 with multiple units", text, i, w)
				}
			}
		}
	}
}

func TestComputeCJKBreaksAnywhere(t *testing.T) {
	e := testEngine()
	// 16px per cluster, 40px wide: exactly 2 clusters fit per line.
	l := e.Compute("こんにちは", 40)
	if len(l.Lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(l.Lines))
	}
	want := []string{"こん", "にち", "は"}
	for i, w := range want {
		if got := l.Slice(l.Lines[i].Start, l.Lines[i].End); got != w {
			t.Errorf("line %d = %q, want %q", i, got, w)
		}
	}
}

func TestComputeCJKMonotonicWrapping(t *testing.T) {
	e := testEngine()
	text := strings.Repeat("駅", 20)
	prev := -1
	for width := 16.0; width <= 320; width += 16 {
		l := e.Compute(text, width)
		n := len(l.Lines)
		if prev != -1 && n > prev {
			t.Errorf("width %v: line count rose from %d to %d as width grew", width, prev, n)
		}
		prev = n
	}
}

func TestComputeMixedScriptScenario(t *testing.T) {
	e := testEngine()
	// "こんにちは World": 5 CJK clusters at 16px, a space and "World" at 8px
	// each. At width 88 the first line holds 5 CJK (80) plus the hanging
	// space; "World" (40px) moves whole to the next line instead of
	// splitting.
	l := e.Compute("こんにちは World", 88)
	if len(l.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(l.Lines))
	}
	first := l.Slice(l.Lines[0].Start, l.Lines[0].End)
	second := l.Slice(l.Lines[1].Start, l.Lines[1].End)
	if strings.TrimRight(first, " ") != "こんにちは" {
		t.Errorf("first line = %q", first)
	}
	if second != "World" {
		t.Errorf("second line = %q, want unsplit Latin word", second)
	}
}

func TestComputeLatinWordsMoveWhole(t *testing.T) {
	e := testEngine()
	// 8px per char, width 80 = 10 chars. "hello" + " " + "world" is 88px.
	l := e.Compute("hello world", 80)
	if len(l.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(l.Lines))
	}
	if got := l.Slice(l.Lines[1].Start, l.Lines[1].End); got != "world" {
		t.Errorf("second line = %q, want %q", got, "world")
	}
}

func TestComputeBreaksAfterHyphen(t *testing.T) {
	e := testEngine()
	// "twenty-three" is 12 chars (96px); width 60 holds "twenty-" (56px).
	l := e.Compute("twenty-three", 60)
	if len(l.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(l.Lines))
	}
	if got := l.Slice(l.Lines[0].Start, l.Lines[0].End); got != "twenty-" {
		t.Errorf("first line = %q, want %q", got, "twenty-")
	}
}

func TestComputeOversizedUnitOverflows(t *testing.T) {
	e := testEngine()
	// One 13-char word (104px) on a 50px line: placed alone, overflowing.
	l := e.Compute("supercalifrag", 50)
	if len(l.Lines) != 1 {
		t.Fatalf("got %d lines, want 1 (oversized unit goes alone)", len(l.Lines))
	}
	if l.Lines[0].Width != 104 {
		t.Errorf("Width = %v, want 104", l.Lines[0].Width)
	}
}

func TestComputeMissingGlyphUsesFallback(t *testing.T) {
	e := testEngine()
	l := e.Compute("a@b", 100)
	if len(l.Clusters) != 3 {
		t.Fatalf("got %d clusters, want 3", len(l.Clusters))
	}
	if l.Clusters[1].Advance != 8 {
		t.Errorf("fallback advance = %v, want 8", l.Clusters[1].Advance)
	}
}

func TestComputeHardNewlines(t *testing.T) {
	e := testEngine()
	l := e.Compute("one\ntwo", 1000)
	if len(l.Lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(l.Lines))
	}
	// The newline cluster belongs to the line it terminates, so a selection
	// spanning both lines copies the break.
	if got := l.Slice(0, len(l.Clusters)); got != "one\ntwo" {
		t.Errorf("full slice = %q", got)
	}
}

func TestComputeEmptyText(t *testing.T) {
	e := testEngine()
	l := e.Compute("", 100)
	if len(l.Lines) != 1 || l.Lines[0].Start != l.Lines[0].End {
		t.Errorf("empty text should lay out as one empty line, got %+v", l.Lines)
	}
}

func TestAppendMatchesFullCompute(t *testing.T) {
	e := testEngine()
	tests := []struct {
		name  string
		base  string
		added string
		width float64
	}{
		{"extends last paragraph", "one line\ntwo words here", " and more", 100},
		{"wrap moves at the boundary", "Guard: halt\nYou: hel", "lo there stranger", 80},
		{"added hard newline", "first\nsecond", " half\nthird", 100},
		{"no prior newline", "hello world", " again", 80},
		{"cjk tail", "案内:\n切符は", "あちらで買えます", 64},
		{"trailing newline base", "done\n", "next line", 100},
		{"only a newline added", "one\ntwo", "\n", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := e.Compute(tt.base, tt.width)
			got := e.Append(prev, tt.added)
			want := e.Compute(tt.base+tt.added, tt.width)

			if len(got.Clusters) != len(want.Clusters) {
				t.Fatalf("clusters = %d, want %d", len(got.Clusters), len(want.Clusters))
			}
			for i := range want.Clusters {
				if got.Clusters[i] != want.Clusters[i] {
					t.Fatalf("cluster %d = %+v, want %+v", i, got.Clusters[i], want.Clusters[i])
				}
			}
			if len(got.Lines) != len(want.Lines) {
				t.Fatalf("lines = %+v, want %+v", got.Lines, want.Lines)
			}
			for i := range want.Lines {
				if got.Lines[i] != want.Lines[i] {
					t.Errorf("line %d = %+v, want %+v", i, got.Lines[i], want.Lines[i])
				}
			}
		})
	}
}

func TestAppendReusesClosedLines(t *testing.T) {
	e := testEngine()
	prev := e.Compute("finished paragraph\nopen tail", 80)
	got := e.Append(prev, " grows")

	// Every line closed at or before the hard newline keeps its exact
	// geometry from the previous layout.
	k := lastNewline(prev.Clusters)
	if k < 0 {
		t.Fatal("expected a newline cluster in the base text")
	}
	for i, line := range prev.Lines {
		if line.End > k+1 {
			break
		}
		if got.Lines[i] != line {
			t.Errorf("closed line %d changed: %+v, was %+v", i, got.Lines[i], line)
		}
	}
	if text := got.Slice(0, len(got.Clusters)); text != "finished paragraph\nopen tail grows" {
		t.Errorf("spliced text = %q", text)
	}
}

func TestHitTestColumnSnapping(t *testing.T) {
	e := testEngine()
	l := e.Compute("abcd", 1000) // 8px clusters

	// Clusters span 8px each: a=[0,8), b=[8,16), c=[16,24), d=[24,32).
	tests := []struct {
		x    float64
		want int
	}{
		{-5, 0},  // left of the line clamps to the first boundary
		{0, 0},
		{3, 0},   // left half of 'a'
		{5, 1},   // right half of 'a' snaps to the next boundary
		{10, 1},  // left half of 'b'
		{30, 4},  // right half of 'd'
		{100, 4}, // past the end clamps to the line end
	}
	for _, tt := range tests {
		if got := l.HitTest(0, tt.x); got != tt.want {
			t.Errorf("HitTest(0, %v) = %d, want %d", tt.x, got, tt.want)
		}
	}
}

func TestHitTestRowClamping(t *testing.T) {
	e := testEngine()
	l := e.Compute("ab\ncd", 1000)
	if got := l.HitTest(-1, 0); got != 0 {
		t.Errorf("row -1 hit %d, want 0", got)
	}
	if got := l.HitTest(99, 0); got != 3 {
		t.Errorf("row 99 hit %d, want 3 (first cluster of last line)", got)
	}
}
