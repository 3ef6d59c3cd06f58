// Package provider manages the set of loaded adapters for one run.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/pkg/adapter"
	awsprovider "github.com/stackform-io/stackform/providers/aws"
	dockerprovider "github.com/stackform-io/stackform/providers/docker"
	nullprovider "github.com/stackform-io/stackform/providers/null"
)

// Registry maps provider names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapter.Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]adapter.Adapter)}
}

// Load initializes and registers a built-in adapter by name. Loading an
// already-loaded adapter is a no-op.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[name]; exists {
		return nil
	}

	var a adapter.Adapter
	switch name {
	case "null":
		a = nullprovider.New()
	case "docker":
		a = dockerprovider.New()
	case "aws":
		a = awsprovider.New()
	default:
		return fmt.Errorf("unknown provider: %s", name)
	}

	r.adapters[name] = a
	return nil
}

// Register installs a custom adapter, replacing any previous one with the
// same name. Tests use this to substitute fakes.
func (r *Registry) Register(name string, a adapter.Adapter) {
	r.mu.Lock()
	r.adapters[name] = a
	r.mu.Unlock()
}

// Get returns a loaded adapter.
func (r *Registry) Get(name string) (adapter.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("provider not loaded: %s", name)
	}
	return a, nil
}

// Schema asks the loaded adapters, in stable name order, for a resource
// type's schema. Returns nil when no adapter knows the type.
func (r *Registry) Schema(typ string) *ir.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if s := r.adapters[name].Schema(typ); s != nil {
			return s
		}
	}
	return nil
}
