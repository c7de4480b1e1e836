// Package providers maintains the factory of available provider
// implementations. Vendor packages self-register in their init(), so adding
// a provider means adding one package, not editing call sites.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"llmgate/internal/core"
)

// Constructor builds a provider instance from one credential pool entry.
type Constructor func(cfg core.ProviderConfig) (core.Provider, error)

var (
	mu           sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register adds a provider constructor for the given type string.
// Called from vendor package init() functions.
func Register(providerType string, fn Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := constructors[providerType]; dup {
		panic("providers: duplicate registration for " + providerType)
	}
	constructors[providerType] = fn
}

// Create instantiates a provider for one credential pool entry. Providers are
// created per request: the credential lives only as long as the exchange.
func Create(cfg core.ProviderConfig) (core.Provider, error) {
	mu.RLock()
	fn, ok := constructors[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
	return fn(cfg)
}

// Known reports whether a provider type has a registered implementation.
func Known(providerType string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := constructors[providerType]
	return ok
}

// Types returns the registered provider type strings, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(constructors))
	for t := range constructors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
