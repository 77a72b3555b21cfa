package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by [Registry.CreateTTS] for a name no
// factory was registered under.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// TTSFactory builds a speech provider from its providers.tts entry.
type TTSFactory func(ProviderEntry) (tts.Provider, error)

// Registry resolves the provider names used in configuration files to
// factories. main registers the built-in providers; tests register doubles
// under their own names. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	tts map[string]TTSFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tts: make(map[string]TTSFactory)}
}

// RegisterTTS registers factory under name, replacing any earlier one.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	r.tts[name] = factory
	r.mu.Unlock()
}

// CreateTTS builds the provider named by entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q (registered: %v)", ErrProviderNotRegistered, entry.Name, r.TTSNames())
	}
	return factory(entry)
}

// TTSNames returns the registered names, sorted.
func (r *Registry) TTSNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tts))
}
