package model

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownProvider is returned by Resolver.Resolve for provider names that
// have no registered factory.
var ErrUnknownProvider = errors.New("unknown provider")

// Factory constructs a Provider bound to a specific model name.
type Factory func(modelName string) (Provider, error)

// Resolver maps provider names to factories so callers can bind a
// (provider, model) pair without importing concrete adapters.
//
// The zero value is not usable; construct with NewResolver. Register the
// adapters the process actually ships:
//
//	r := model.NewResolver()
//	r.Register("openai", func(m string) (model.Provider, error) {
//	    return openai.New(apiKey, m), nil
//	})
//
// Resolver is safe for concurrent use.
type Resolver struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewResolver creates an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{factories: make(map[string]Factory)}
}

// Register installs a factory under the given provider name, replacing any
// previous registration.
func (r *Resolver) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Resolve constructs a Provider for the given provider and model names.
// Returns ErrUnknownProvider (wrapped) when the provider is not registered.
func (r *Resolver) Resolve(provider, modelName string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[provider]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return f(modelName)
}

// Providers returns the registered provider names, for diagnostics.
func (r *Resolver) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
