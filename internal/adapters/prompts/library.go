// Package prompts loads the level catalogue and the system prompts that
// govern each level. Files in a prompt directory override the built-in
// defaults one by one.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
)

const (
	levelsFile = "levels.yaml"
	baseFile   = "base.md"
)

//go:embed defaults/*.yaml defaults/*.md
var defaults embed.FS

// catalogue is one immutable loaded state of the library.
type catalogue struct {
	levels  []ports.Level
	base    string
	prompts map[entities.LevelContext]string
}

// Library implements ports.PromptSource. Reload swaps the whole catalogue
// at once; readers never see a half-loaded state.
type Library struct {
	dir string
	log *zap.Logger

	mu  sync.RWMutex
	cur *catalogue
}

// NewLibrary loads the catalogue from dir, or only the built-in defaults
// when dir is empty.
func NewLibrary(dir string, log *zap.Logger) (*Library, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Library{dir: dir, log: log.Named("prompts")}
	cat, err := l.load()
	if err != nil {
		return nil, err
	}
	l.cur = cat
	return l, nil
}

// Dir is the watched prompt directory, or empty.
func (l *Library) Dir() string { return l.dir }

// Levels returns a copy of the catalogue in match order.
func (l *Library) Levels() []ports.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ports.Level, len(l.cur.levels))
	copy(out, l.cur.levels)
	return out
}

// SystemPrompt joins the base prompt with the level prompt, if any.
func (l *Library) SystemPrompt(level entities.LevelContext) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p := l.cur.prompts[level]
	if p == "" {
		return l.cur.base
	}
	if l.cur.base == "" {
		return p
	}
	return l.cur.base + "\n\n" + p
}

// Reload rereads the directory. On failure the previous catalogue stays
// active and the error is returned.
func (l *Library) Reload() error {
	cat, err := l.load()
	if err != nil {
		l.log.Error("prompt reload failed, keeping previous catalogue", zap.String("dir", l.dir), zap.Error(err))
		return err
	}
	l.mu.Lock()
	l.cur = cat
	l.mu.Unlock()
	l.log.Info("prompt catalogue reloaded", zap.Int("levels", len(cat.levels)))
	return nil
}

func (l *Library) load() (*catalogue, error) {
	raw, err := l.read(levelsFile)
	if err != nil {
		return nil, err
	}
	var levels []ports.Level
	if err := yaml.Unmarshal(raw, &levels); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", levelsFile, err)
	}
	if err := validate(levels); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", levelsFile, err)
	}

	base, err := l.read(baseFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cat := &catalogue{
		levels:  levels,
		base:    strings.TrimSpace(string(base)),
		prompts: make(map[entities.LevelContext]string, len(levels)),
	}
	for _, lvl := range levels {
		p, err := l.read(string(lvl.ID) + ".md")
		switch {
		case errors.Is(err, fs.ErrNotExist):
			l.log.Debug("no level prompt, using base", zap.String("level", string(lvl.ID)))
		case err != nil:
			return nil, err
		default:
			cat.prompts[lvl.ID] = strings.TrimSpace(string(p))
		}
	}
	return cat, nil
}

// read prefers the prompt directory and falls back to the embedded file.
func (l *Library) read(name string) ([]byte, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
	}
	data, err := defaults.ReadFile("defaults/" + name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

func validate(levels []ports.Level) error {
	if len(levels) == 0 {
		return errors.New("no levels defined")
	}
	seen := make(map[entities.LevelContext]bool, len(levels))
	defaultCount := 0
	for i, lvl := range levels {
		if strings.TrimSpace(string(lvl.ID)) == "" {
			return fmt.Errorf("level %d has no id", i)
		}
		if strings.ContainsAny(string(lvl.ID), `/\.`) {
			return fmt.Errorf("level id %q must be a plain name", lvl.ID)
		}
		if seen[lvl.ID] {
			return fmt.Errorf("duplicate level %q", lvl.ID)
		}
		seen[lvl.ID] = true
		if lvl.Phase <= 0 {
			return fmt.Errorf("level %q needs a positive phase", lvl.ID)
		}
		if lvl.Default {
			defaultCount++
		}
	}
	if defaultCount > 1 {
		return errors.New("more than one default level")
	}
	return nil
}

var _ ports.PromptSource = (*Library)(nil)
