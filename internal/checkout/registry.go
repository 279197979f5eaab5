package checkout

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultRegistrySize = 5_000

// Factory builds an orchestrator bound to one buyer's bearer token.
type Factory func(token string) *Orchestrator

type registryEntry struct {
	token        string
	orchestrator *Orchestrator
}

// Registry keeps one orchestrator per browser session. The least recently
// used sessions are evicted once the registry is full.
type Registry struct {
	mu      sync.Mutex
	entries *lru.Cache[string, registryEntry]
	factory Factory
}

func NewRegistry(size int, factory Factory) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("checkout registry factory is required")
	}
	if size <= 0 {
		size = defaultRegistrySize
	}
	entries, err := lru.New[string, registryEntry](size)
	if err != nil {
		return nil, err
	}
	return &Registry{entries: entries, factory: factory}, nil
}

// Get returns the session's orchestrator. A token change (re-login) starts a
// fresh checkout.
func (r *Registry) Get(sessionID, token string) *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries.Get(sessionID); ok && entry.token == token {
		return entry.orchestrator
	}
	orchestrator := r.factory(token)
	r.entries.Add(sessionID, registryEntry{token: token, orchestrator: orchestrator})
	return orchestrator
}

func (r *Registry) Forget(sessionID string) {
	r.entries.Remove(sessionID)
}

func (r *Registry) Len() int {
	return r.entries.Len()
}
