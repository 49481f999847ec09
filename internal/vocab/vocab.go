// Package vocab corrects recognized utterances against the station's known
// vocabulary. Speech recognition reliably mangles proper nouns it has never
// seen, so NPC names, platform names, and route terms come back as
// near-homophones ("shin juku" for "Shinjuku"). The corrector slides n-gram
// windows over the transcript and replaces any window that is phonetically
// close to a vocabulary term with that term's canonical spelling.
//
// Matching is two-stage: Double Metaphone codes must overlap between the
// window and the term, then Jaro-Winkler similarity ranks the survivors.
// The phonetic gate keeps the string-distance stage from firing on words
// that merely look alike.
package vocab

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// splitCompoundThreshold gates windows one word longer than the term,
	// where a recognizer split a compound. The joined comparison must be
	// near-exact or a stray trailing word gets swallowed into the match.
	splitCompoundThreshold = 0.90
)

// Correction records one replacement made in a transcript.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// term is a vocabulary entry with its phonetic codes precomputed.
type term struct {
	display string
	words   int
	codes   map[string]struct{}
}

// Corrector rewrites transcripts against a fixed vocabulary. It is safe for
// concurrent use once built.
type Corrector struct {
	terms             []term
	maxWords          int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score accepted after
// the Double Metaphone gate passes.
func WithPhoneticThreshold(t float64) Option {
	return func(c *Corrector) { c.phoneticThreshold = t }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score accepted when the
// phonetic codes do not overlap.
func WithFuzzyThreshold(t float64) Option {
	return func(c *Corrector) { c.fuzzyThreshold = t }
}

// New builds a Corrector over the given vocabulary terms. Blank terms are
// skipped; duplicate spellings (case-insensitive) keep the first occurrence.
func New(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}

	seen := make(map[string]struct{}, len(vocabulary))
	for _, v := range vocabulary {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		words := strings.Fields(v)
		c.terms = append(c.terms, term{
			display: v,
			words:   len(words),
			codes:   metaphoneCodes(words),
		})
		if len(words) > c.maxWords {
			c.maxWords = len(words)
		}
	}
	return c
}

// Correct rewrites text, replacing phonetic near-matches of vocabulary terms
// with their canonical spelling. It returns the corrected text and one
// Correction per replacement. Whitespace between tokens is normalized to
// single spaces.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.terms) == 0 {
		return text, nil
	}

	var out []string
	var corrections []Correction
	for i := 0; i < len(tokens); {
		matched := false
		// Longest window first so "east gate office" wins over "east gate".
		for size := min(c.maxWords, len(tokens)-i); size >= 1 && !matched; size-- {
			window := strings.Join(tokens[i:i+size], " ")
			display, score, ok := c.match(window, size)
			if !ok {
				continue
			}
			if strings.EqualFold(window, display) {
				// Already spelled right; pass through untouched.
				out = append(out, tokens[i:i+size]...)
			} else {
				out = append(out, display)
				corrections = append(corrections, Correction{
					Original:   window,
					Corrected:  display,
					Confidence: score,
				})
			}
			i += size
			matched = true
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	return strings.Join(out, " "), corrections
}

// match finds the best vocabulary term for a token window. A window may hold
// the same number of words as a term or one more, which covers recognizers
// that split a compound ("shin juku") without letting a stray prefix word
// pull in a longer term.
func (c *Corrector) match(window string, windowWords int) (string, float64, bool) {
	lower := strings.ToLower(window)
	codes := metaphoneCodes(strings.Fields(lower))

	best := ""
	bestScore := 0.0
	for _, t := range c.terms {
		if windowWords < t.words || windowWords > t.words+1 {
			continue
		}
		termLower := strings.ToLower(t.display)
		if lower == termLower {
			return t.display, 1.0, true
		}

		var score, threshold float64
		if windowWords == t.words {
			score = similarity(lower, termLower)
			threshold = c.fuzzyThreshold
			if codesOverlap(codes, t.codes) {
				threshold = c.phoneticThreshold
			}
		} else {
			// Split compound: judge the joined forms alone.
			score = matchr.JaroWinkler(stripSpaces(lower), stripSpaces(termLower), true)
			threshold = splitCompoundThreshold
		}
		if score >= threshold && score > bestScore {
			best = t.display
			bestScore = score
		}
	}
	return best, bestScore, best != ""
}

// metaphoneCodes collects the Double Metaphone codes of every word. Both the
// primary and alternate encodings go into the set so dialectal variants gate
// each other in.
func metaphoneCodes(words []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(words)*2)
	for _, w := range words {
		primary, secondary := matchr.DoubleMetaphone(w)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity scores two strings with Jaro-Winkler twice, as given and with
// spaces stripped, and keeps the higher score. The stripped view catches
// recognizers that split a compound into separate words.
func similarity(a, b string) float64 {
	best := matchr.JaroWinkler(a, b, true)
	if joined := matchr.JaroWinkler(stripSpaces(a), stripSpaces(b), true); joined > best {
		best = joined
	}
	return best
}

func stripSpaces(s string) string {
	return strings.ReplaceAll(s, " ", "")
}
