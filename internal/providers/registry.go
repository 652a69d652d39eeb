package providers

import (
	"fmt"
	"sort"

	"github.com/angelmondragon/reviewflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/reviewflow-backend/pkg/errors"
)

// Registry resolves adapters by provider tag.
type Registry struct {
	adapters map[enums.Provider]Adapter
}

// NewRegistry indexes the adapters, rejecting duplicates.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[enums.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		p := a.Provider()
		if !p.IsValid() {
			return nil, fmt.Errorf("adapter reports invalid provider %q", p)
		}
		if _, exists := r.adapters[p]; exists {
			return nil, fmt.Errorf("duplicate adapter for provider %q", p)
		}
		r.adapters[p] = a
	}
	return r, nil
}

// Get returns the adapter for p or a validation error when the provider is
// unknown or not configured in this deployment.
func (r *Registry) Get(p enums.Provider) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[p]; ok {
			return a, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("provider %q is not available", p))
}

// Parse resolves a raw path value.
func (r *Registry) Parse(raw string) (Adapter, error) {
	p, err := enums.ParseProvider(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown provider")
	}
	return r.Get(p)
}

// Providers lists registered providers in enum order.
func (r *Registry) Providers() []enums.Provider {
	order := map[enums.Provider]int{}
	for i, p := range enums.AllProviders() {
		order[p] = i
	}
	out := make([]enums.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
