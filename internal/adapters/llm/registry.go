package llm

import (
	"fmt"
	"strings"

	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

// Registry maps model names to adapters by family prefix. Models that no
// hosted provider claims go to the local fallback.
type Registry struct {
	anthropic ports.ModelStream
	gemini    ports.ModelStream
	local     ports.ModelStream
}

// NewRegistry creates a registry. Any adapter may be nil, which disables
// its model family.
func NewRegistry(local, anthropic, gemini ports.ModelStream) *Registry {
	return &Registry{anthropic: anthropic, gemini: gemini, local: local}
}

// For implements ports.ModelRegistry.
func (r *Registry) For(model string) (ports.ModelStream, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	var adapter ports.ModelStream
	switch {
	case strings.HasPrefix(m, "claude"):
		adapter = r.anthropic
	case strings.HasPrefix(m, "gemini"):
		adapter = r.gemini
	default:
		adapter = r.local
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: %q", ports.ErrUnknownModel, model)
	}
	return adapter, nil
}

// Providers lists the enabled providers, for health reporting.
func (r *Registry) Providers() []string {
	var out []string
	for _, a := range []ports.ModelStream{r.local, r.anthropic, r.gemini} {
		if a != nil {
			out = append(out, a.Provider())
		}
	}
	return out
}

var _ ports.ModelRegistry = (*Registry)(nil)
