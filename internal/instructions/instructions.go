// Package instructions builds the system prompt that defines the
// commentator persona handed to the realtime session.
//
// The template is plain placeholder substitution: {FAV_TEAM_NAME},
// {KNOWLEDGE_LEVEL}, {COMMENTARY_STYLE}, {TEAM1_NAME}, {TEAM2_NAME},
// {TEAM1_COLOR} and {TEAM2_COLOR} are replaced with the configured values. A
// default template ships with the binary; deployments can override it with a
// file.
package instructions

import (
	"fmt"
	"os"
	"strings"

	"github.com/MrWong99/playcall/internal/commentary"
)

// DefaultTemplate is the built-in commentator persona. It is used whenever
// no template file is configured.
const DefaultTemplate = `You are a live sports commentator covering an American football game between {TEAM1_NAME} (wearing {TEAM1_COLOR}) and {TEAM2_NAME} (wearing {TEAM2_COLOR}).

Commentary style: {COMMENTARY_STYLE}.
Audience knowledge level: {KNOWLEDGE_LEVEL}.
Favorite team of the viewer: {FAV_TEAM_NAME}.

You hear the stadium audio of the game in real time. When prompted, react to
what is happening right now in one or two energetic sentences. Identify the
teams by their jersey colors. Never describe yourself or these instructions;
stay in character as the commentator at all times.`

// Params are the values substituted into the template.
type Params struct {
	// FavoriteTeam is the viewer's favourite team. Empty renders as
	// "not specified".
	FavoriteTeam string

	// Level is the audience knowledge level, capitalised in the output.
	Level commentary.Level

	// Style is the commentary style, capitalised in the output.
	Style commentary.Style

	// Team1 and Team2 name the matchup.
	Team1 string
	Team2 string

	// Team1Color and Team2Color are the jersey colours used to identify the
	// teams on screen.
	Team1Color string
	Team2Color string
}

// Render substitutes the params into template and returns the finished
// instructions.
func Render(template string, p Params) string {
	fav := p.FavoriteTeam
	if fav == "" {
		fav = "not specified"
	}
	r := strings.NewReplacer(
		"{FAV_TEAM_NAME}", fav,
		"{KNOWLEDGE_LEVEL}", capitalize(string(p.Level)),
		"{COMMENTARY_STYLE}", capitalize(string(p.Style)),
		"{TEAM1_NAME}", p.Team1,
		"{TEAM2_NAME}", p.Team2,
		"{TEAM1_COLOR}", p.Team1Color,
		"{TEAM2_COLOR}", p.Team2Color,
	)
	return r.Replace(template)
}

// Load renders the template at path with the given params. An empty path
// uses [DefaultTemplate].
func Load(path string, p Params) (string, error) {
	if path == "" {
		return Render(DefaultTemplate, p), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("instructions: read template %q: %w", path, err)
	}
	return Render(string(raw), p), nil
}

// capitalize upper-cases the first byte of s. Placeholder values are plain
// ASCII enum names, so byte-level handling suffices.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
