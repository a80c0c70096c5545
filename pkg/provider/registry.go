package provider

import (
	"strings"
	"sync"
)

// Registry resolves provider names to implementations. Built-in providers are
// installed at construction time; additional providers can be registered at
// runtime (plugins). Lookup checks built-ins first, then the dynamic set.
//
// The registry is constructed once at process start and passed by reference
// into the dispatch layer rather than living as a package-level singleton, so
// tests can substitute fakes.
type Registry struct {
	mu      sync.RWMutex
	builtin map[string]Provider
	dynamic map[string]Provider
}

// NewRegistry creates a registry seeded with the given built-in providers.
func NewRegistry(builtins ...Provider) *Registry {
	r := &Registry{
		builtin: make(map[string]Provider),
		dynamic: make(map[string]Provider),
	}
	for _, p := range builtins {
		r.builtin[normalizeName(p.Name())] = p
	}
	return r
}

// Register adds or replaces a provider in the dynamic set. Built-in entries
// are never shadowed because Lookup consults them first.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dynamic[normalizeName(p.Name())] = p
}

// Lookup returns the provider registered under name, or nil when the name is
// unknown. Names are matched case-insensitively. A nil return is a per-role,
// resolvable condition for callers, not a fatal one.
func (r *Registry) Lookup(name string) Provider {
	key := normalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.builtin[key]; ok {
		return p
	}
	if p, ok := r.dynamic[key]; ok {
		return p
	}
	return nil
}

// Names returns the names of all registered providers, built-in first.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builtin)+len(r.dynamic))
	for name := range r.builtin {
		names = append(names, name)
	}
	for name := range r.dynamic {
		if _, ok := r.builtin[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
