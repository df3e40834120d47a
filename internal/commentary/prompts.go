package commentary

import (
	"fmt"
	"math/rand/v2"
)

// Style selects the commentator's delivery flavour. All styles except
// roasting share the neutral prompt templates; the style mainly shapes the
// session instructions, while roasting swaps in its own template set.
type Style string

const (
	StyleEnthusiastic Style = "enthusiastic"
	StyleAnalytical   Style = "analytical"
	StyleCasual       Style = "casual"
	StyleRoasting     Style = "roasting"
)

// IsValid reports whether s is a recognised commentary style.
func (s Style) IsValid() bool {
	switch s {
	case StyleEnthusiastic, StyleAnalytical, StyleCasual, StyleRoasting:
		return true
	}
	return false
}

// Level is the audience knowledge level. It contributes a phrasing hint
// appended to every template prompt.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelExpert       Level = "expert"
)

// IsValid reports whether l is a recognised knowledge level.
func (l Level) IsValid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelExpert:
		return true
	}
	return false
}

// roastingTemplates are used only by StyleRoasting.
var roastingTemplates = []string{
	"What's happening? Roast it. 1-2 sentences.",
	"Comment on that play with roasts. 1-2 sentences.",
}

// neutralTemplates are shared by every non-roasting style.
var neutralTemplates = []string{
	"What's happening? 1-2 sentences.",
	"Comment on that play. 1-2 sentences.",
}

// levelHints map the knowledge level to the phrasing reminder appended to
// each chosen template.
var levelHints = map[Level]string{
	LevelBeginner:     "Explain terms simply.",
	LevelIntermediate: "Explain tactics.",
	LevelExpert:       "Use jargon freely.",
}

// OpeningPrompt builds the one-time session opener for the given matchup.
func OpeningPrompt(team1, team2 string) string {
	return fmt.Sprintf("Welcome to %s vs %s! Quick intro in 1-2 sentences.", team1, team2)
}

// Prompter produces the regular commentary prompts for one style and level.
// Each Pick selects a template uniformly at random from the style's set and
// appends the level hint. Prompters are read-only after construction apart
// from the random source, which rand/v2 guards internally.
type Prompter struct {
	templates []string
	hint      string

	// pick returns a uniform index in [0, n). Replaceable in tests.
	pick func(n int) int
}

// NewPrompter creates a Prompter for the given style and level. Unknown
// styles fall back to the neutral template set; unknown levels contribute no
// hint.
func NewPrompter(style Style, level Level) *Prompter {
	templates := neutralTemplates
	if style == StyleRoasting {
		templates = roastingTemplates
	}
	return &Prompter{
		templates: templates,
		hint:      levelHints[level],
		pick:      rand.IntN,
	}
}

// Pick returns one prompt: a uniformly chosen template with the level hint
// appended.
func (p *Prompter) Pick() string {
	t := p.templates[p.pick(len(p.templates))]
	if p.hint == "" {
		return t
	}
	return t + " " + p.hint
}

// Templates returns the full prompt set Pick draws from, with the level hint
// applied. Useful for asserting membership in tests and for diagnostics.
func (p *Prompter) Templates() []string {
	out := make([]string, len(p.templates))
	for i, t := range p.templates {
		if p.hint == "" {
			out[i] = t
		} else {
			out[i] = t + " " + p.hint
		}
	}
	return out
}
