package idea

import (
	"context"
	"sync"
)

// MemorySource is an in-memory Source for tests and local dry runs.
type MemorySource struct {
	mu    sync.RWMutex
	ideas map[string]string
}

// NewMemorySource creates a MemorySource seeded with the given ideas.
func NewMemorySource(ideas map[string]string) *MemorySource {
	m := &MemorySource{ideas: make(map[string]string, len(ideas))}
	for ref, body := range ideas {
		m.ideas[ref] = body
	}
	return m
}

// Put adds or replaces an idea body.
func (m *MemorySource) Put(ideaRef, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ideas[ideaRef] = body
}

// GetIdea implements Source.
func (m *MemorySource) GetIdea(_ context.Context, ideaRef string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.ideas[ideaRef]
	if !ok {
		return "", NotFound(ideaRef)
	}
	return body, nil
}
