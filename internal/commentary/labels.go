package commentary

import (
	"strings"

	"github.com/MrWong99/playcall/pkg/engine"
	"github.com/antzucaro/matchr"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for a fuzzy label
// match. Detector class names drift ("ball", "sports ball", "soccer-ball"),
// so exact comparison alone misses qualifying events.
const defaultFuzzyThreshold = 0.84

// LabelOption is a functional option for configuring a LabelMatcher.
type LabelOption func(*LabelMatcher)

// WithFuzzy enables Jaro-Winkler similarity as a fallback when no exact
// token match is found.
func WithFuzzy(enabled bool) LabelOption {
	return func(m *LabelMatcher) { m.fuzzy = enabled }
}

// WithFuzzyThreshold sets the minimum similarity score for a fuzzy match.
// Values outside (0, 1] keep the default.
func WithFuzzyThreshold(threshold float64) LabelOption {
	return func(m *LabelMatcher) {
		if threshold > 0 && threshold <= 1 {
			m.threshold = threshold
		}
	}
}

// LabelMatcher is the qualifying predicate for the event-triggered strategy:
// it decides whether a detection batch contains the trigger object. Matching
// is case-insensitive and token-aware, so a target of "ball" qualifies a
// detection labelled "sports ball". Read-only after construction; safe for
// concurrent use.
type LabelMatcher struct {
	target    string
	fuzzy     bool
	threshold float64
}

// NewLabelMatcher creates a matcher for the given trigger label.
func NewLabelMatcher(target string, opts ...LabelOption) *LabelMatcher {
	m := &LabelMatcher{
		target:    strings.ToLower(strings.TrimSpace(target)),
		threshold: defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Matches reports whether any detected object qualifies. An empty target
// label qualifies every non-empty batch, which turns the predicate off
// without disabling the strategy.
func (m *LabelMatcher) Matches(objects []engine.Object) bool {
	if m.target == "" {
		return len(objects) > 0
	}
	for _, obj := range objects {
		if m.matchesLabel(obj.Label) {
			return true
		}
	}
	return false
}

// matchesLabel tests one detector class name against the target.
func (m *LabelMatcher) matchesLabel(label string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return false
	}
	if label == m.target {
		return true
	}

	// Token pass: "sports ball" contains the token "ball".
	tokens := strings.Fields(label)
	for _, tok := range tokens {
		if tok == m.target {
			return true
		}
	}

	if !m.fuzzy {
		return false
	}

	// Fuzzy pass: best Jaro-Winkler score across the full label and its
	// tokens.
	best := matchr.JaroWinkler(label, m.target, true)
	for _, tok := range tokens {
		if score := matchr.JaroWinkler(tok, m.target, true); score > best {
			best = score
		}
	}
	return best >= m.threshold
}
