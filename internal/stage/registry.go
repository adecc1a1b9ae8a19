package stage

import (
	"sort"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
)

// Registry is the static stage-name -> Processor mapping assembled at
// startup. Binding an unknown or terminal stage is a configuration error
// surfaced before any story is touched.
type Registry struct {
	cat        *catalog.Catalog
	processors map[string]Processor
}

// NewRegistry creates an empty registry over the catalog.
func NewRegistry(cat *catalog.Catalog) *Registry {
	return &Registry{cat: cat, processors: make(map[string]Processor)}
}

// Register binds a processor to a stage name.
func (r *Registry) Register(stageName string, p Processor) error {
	m, ok := r.cat.Manifest(stageName)
	if !ok {
		return pqerrors.Newf(pqerrors.KindConfig, "cannot register processor: unknown stage %q", stageName)
	}
	if m.Terminal() {
		return pqerrors.Newf(pqerrors.KindConfig, "cannot register processor for terminal stage %q", stageName)
	}
	if p == nil {
		return pqerrors.Newf(pqerrors.KindConfig, "nil processor for stage %q", stageName)
	}
	if _, dup := r.processors[stageName]; dup {
		return pqerrors.Newf(pqerrors.KindConfig, "duplicate processor for stage %q", stageName)
	}
	r.processors[stageName] = p
	return nil
}

// Lookup returns the processor bound to a stage.
func (r *Registry) Lookup(stageName string) (Processor, bool) {
	p, ok := r.processors[stageName]
	return p, ok
}

// Stages returns the bound stage names, sorted for stable iteration.
func (r *Registry) Stages() []string {
	out := make([]string, 0, len(r.processors))
	for name := range r.processors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate checks the registry against a set of enabled stages: every
// enabled, non-terminal stage must have a processor.
func (r *Registry) Validate(enabled []string) error {
	for _, name := range enabled {
		m, ok := r.cat.Manifest(name)
		if !ok {
			return pqerrors.Newf(pqerrors.KindUnknownStage, "enabled stage %q is not in the catalog", name)
		}
		if m.Terminal() {
			continue
		}
		if _, ok := r.processors[name]; !ok {
			return pqerrors.Newf(pqerrors.KindConfig, "no processor registered for enabled stage %q", name)
		}
	}
	return nil
}
