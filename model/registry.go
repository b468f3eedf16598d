package model

import (
	"errors"
	"fmt"
	"sync"
)

// Registry resolves relation targets by model name. Relations whose target is
// not registered yet stay pending until it is.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]*Model
	pending []*ArrayManyToManyField
}

func NewRegistry() *Registry {
	return &Registry{models: map[string]*Model{}}
}

// DefaultRegistry is used by the package level Register functions.
var DefaultRegistry = NewRegistry()

func Register(models ...*Model) error { return DefaultRegistry.Register(models...) }
func MustRegister(models ...*Model)   { DefaultRegistry.MustRegister(models...) }

// Register adds models and resolves every relation whose target is now known.
func (r *Registry) Register(models ...*Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range models {
		if existing, ok := r.models[m.Name]; ok && existing != m {
			return fmt.Errorf("model %q already registered", m.Name)
		}
		if m.PK() == nil {
			return fmt.Errorf("model %q has no primary key", m.Name)
		}
		r.models[m.Name] = m
		m.registry = r
		for _, f := range m.fields {
			if a, ok := f.(*ArrayManyToManyField); ok && a.rel == nil {
				r.pending = append(r.pending, a)
			}
		}
	}
	return r.resolve()
}

func (r *Registry) MustRegister(models ...*Model) {
	if err := r.Register(models...); err != nil {
		panic(err)
	}
}

func (r *Registry) resolve() error {
	var (
		remaining []*ArrayManyToManyField
		errs      []error
	)
	for _, f := range r.pending {
		target := f.model
		if f.to != Self {
			var ok bool
			if target, ok = r.models[f.to]; !ok {
				remaining = append(remaining, f)
				continue
			}
		}
		rel, err := newRel(f, target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		f.rel = rel
		target.reverse = append(target.reverse, rel)
	}
	r.pending = remaining
	return errors.Join(errs...)
}

// Get returns a registered model by name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// Models returns every registered model.
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// Pending lists relation fields whose target model is still unknown.
func (r *Registry) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pending))
	for _, f := range r.pending {
		out = append(out, fmt.Sprintf("%s.%s -> %s", f.model.Name, f.name, f.to))
	}
	return out
}
