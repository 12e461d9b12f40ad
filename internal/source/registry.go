package source

import (
	"github.com/rotisserie/eris"

	"github.com/caribdata/opendata-cli/internal/catalog"
)

// Registry maps source names to their implementations. Only sources the
// catalog enables are registered, so a disabled section never runs, shows
// up in status, or blocks a release.
type Registry struct {
	sources map[string]Source
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry of the catalog's enabled sources.
func NewRegistry(cat *catalog.Catalog) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	if cat.WorldBank.IsEnabled() {
		r.Register(&WorldBank{})
	}
	if cat.FAOSTAT.IsEnabled() {
		r.Register(&FAOSTAT{})
	}
	if cat.Messy.IsEnabled() {
		r.Register(&Messy{})
	}
	return r
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) {
	name := s.Name()
	r.sources[name] = s
	r.order = append(r.order, name)
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// Select returns sources matching the given criteria. If kind is non-nil,
// only sources of that kind are returned. If names is non-empty, only those
// named sources are returned.
func (r *Registry) Select(kind *Kind, names []string) ([]Source, error) {
	if len(names) > 0 {
		var result []Source
		for _, name := range names {
			s, err := r.Get(name)
			if err != nil {
				return nil, err
			}
			if kind != nil && s.Kind() != *kind {
				continue
			}
			result = append(result, s)
		}
		return result, nil
	}

	if kind != nil {
		return r.ByKind(*kind), nil
	}

	return r.All(), nil
}

// ByKind returns all sources of the given kind, in registration order.
func (r *Registry) ByKind(kind Kind) []Source {
	var result []Source
	for _, name := range r.order {
		if r.sources[name].Kind() == kind {
			result = append(result, r.sources[name])
		}
	}
	return result
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.sources[name])
	}
	return result
}

// Names returns all registered source names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
