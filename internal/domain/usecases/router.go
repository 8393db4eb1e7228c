package usecases

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

// Router resolves the (model, level) pair for a message.
type Router struct {
	prompts      ports.PromptSource
	defaultModel string
	buildModel   string
}

// NewRouter creates a Router over the level catalogue.
func NewRouter(prompts ports.PromptSource, defaultModel, buildModel string) *Router {
	return &Router{prompts: prompts, defaultModel: defaultModel, buildModel: buildModel}
}

// Match runs the ordered keyword policy over content. The first category with
// a matching keyword wins; the default category applies otherwise. matched is
// false when the default was used.
func (r *Router) Match(content string) (lvl ports.Level, matched bool) {
	levels := r.prompts.Levels()
	folded := fold(content)
	for _, l := range levels {
		for _, kw := range l.Keywords {
			if kw = fold(kw); kw != "" && strings.Contains(folded, kw) {
				return l, true
			}
		}
	}
	return defaultLevel(levels), false
}

// Resolve picks the route for one message. storedLevel is the level of the
// step linked to the session, or empty; explicitModel is the client override.
func (r *Router) Resolve(content string, storedLevel entities.LevelContext, explicitModel string) entities.Route {
	lvl, matched := r.Match(content)
	buildRequested := matched && lvl.Build

	if storedLevel != "" && !buildRequested {
		if stored, ok := r.lookup(storedLevel); ok {
			lvl = stored
		} else {
			// A level the catalogue no longer knows keeps its id but takes
			// everything else from the default level.
			lvl = defaultLevel(r.prompts.Levels())
			lvl.ID = storedLevel
			lvl.Build = false
		}
	}

	model := r.defaultModel
	if lvl.Model != "" {
		model = lvl.Model
	}
	if explicitModel != "" {
		model = explicitModel
	}
	if lvl.Build && r.buildModel != "" {
		model = r.buildModel
	}

	return entities.Route{
		Model:          model,
		Level:          lvl.ID,
		Agent:          lvl.Agent,
		Reasoning:      lvl.Reasoning,
		Deliverables:   lvl.Deliverables,
		BuildRequested: buildRequested,
		Build:          lvl.Build,
	}
}

// Phase returns the catalogue phase of a level, or 0 when unknown.
func (r *Router) Phase(id entities.LevelContext) int {
	if l, ok := r.lookup(id); ok {
		return l.Phase
	}
	return 0
}

func (r *Router) lookup(id entities.LevelContext) (ports.Level, bool) {
	for _, l := range r.prompts.Levels() {
		if l.ID == id {
			return l, true
		}
	}
	return ports.Level{}, false
}

func defaultLevel(levels []ports.Level) ports.Level {
	for _, l := range levels {
		if l.Default {
			return l
		}
	}
	for _, l := range levels {
		if !l.Build {
			return l
		}
	}
	return ports.Level{}
}

// fold lowercases and strips diacritics so "Diseño" matches "diseno".
// Chained transformers carry state, so each call builds its own.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
