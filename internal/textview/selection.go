package textview

// Selection tracks a click-drag selection over the flattened cluster
// sequence. Anchor is where the pointer went down; focus follows the drag.
// The exposed range is always normalized (start ≤ end) regardless of drag
// direction. A press-release without movement clears any prior selection.
type Selection struct {
	active bool
	anchor int
	focus  int
}

// Begin anchors a new selection at the cluster index, replacing any prior
// selection.
func (s *Selection) Begin(cluster int) {
	s.active = true
	s.anchor = cluster
	s.focus = cluster
}

// Extend moves the focus edge while the pointer drags.
func (s *Selection) Extend(cluster int) {
	if !s.active {
		return
	}
	s.focus = cluster
}

// Release ends the drag. A release at the anchor (no movement) clears the
// selection.
func (s *Selection) Release() {
	if s.active && s.anchor == s.focus {
		s.Clear()
	}
}

// Clear drops the selection entirely.
func (s *Selection) Clear() {
	s.active = false
	s.anchor = 0
	s.focus = 0
}

// Range returns the normalized [start, end) cluster range. ok is false when
// there is no selection or it is empty.
func (s *Selection) Range() (start, end int, ok bool) {
	if !s.active || s.anchor == s.focus {
		return 0, 0, false
	}
	if s.anchor < s.focus {
		return s.anchor, s.focus, true
	}
	return s.focus, s.anchor, true
}
