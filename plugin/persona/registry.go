package persona

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/Daegonica/grokprime/internal/profile"
)

// Registry is the immutable set of personas loaded at startup.
type Registry struct {
	personas  map[string]*Persona
	names     []string
	historian *Persona
}

// Load reads every *.yaml / *.yml file in dir. A file that fails to parse
// aborts the load; a missing directory yields an empty registry.
func Load(dir string, prof *profile.Profile) (*Registry, error) {
	r := &Registry{personas: make(map[string]*Persona)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("persona directory missing, starting with historian only", "dir", dir)
			r.historian = defaultHistorian(prof)
			return r, nil
		}
		return nil, errors.Wrapf(err, "failed to read persona directory %s", dir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p, err := FromFile(filepath.Join(dir, entry.Name()), prof)
		if err != nil {
			return nil, err
		}
		if _, ok := r.personas[p.Name]; ok {
			return nil, errors.Errorf("duplicate persona name %q in %s", p.Name, entry.Name())
		}
		r.personas[p.Name] = p
		slog.Info("loaded persona", "name", p.Name, "provider", p.Provider, "history", p.EnableHistory)
	}

	if h, ok := r.personas[HistorianName]; ok {
		r.historian = h
	} else {
		r.historian = defaultHistorian(prof)
	}

	for name := range r.personas {
		if name != HistorianName {
			r.names = append(r.names, name)
		}
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the persona by name.
func (r *Registry) Get(name string) (*Persona, bool) {
	p, ok := r.personas[name]
	return p, ok
}

// Names lists user-facing persona names in sorted order, historian excluded.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Historian returns the summarization persona, built-in when no
// historian.yaml was present.
func (r *Registry) Historian() *Persona {
	return r.historian
}
