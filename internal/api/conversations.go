package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/mealkit/internal/assistant"
)

// Conversations holds the live assistant conversations, one Manager each.
type Conversations struct {
	newManager func() *assistant.Manager

	mu sync.Mutex
	m  map[string]*assistant.Manager
}

// NewConversations returns a registry that builds managers with newManager.
func NewConversations(newManager func() *assistant.Manager) *Conversations {
	return &Conversations{newManager: newManager, m: make(map[string]*assistant.Manager)}
}

func (c *Conversations) Create() (string, *assistant.Manager) {
	id := uuid.New().String()
	m := c.newManager()
	c.mu.Lock()
	c.m[id] = m
	c.mu.Unlock()
	return id, m
}

func (c *Conversations) Get(id string) (*assistant.Manager, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.m[id]
	return m, ok
}

// Delete cancels the conversation's in-flight request and forgets it.
func (c *Conversations) Delete(id string) bool {
	c.mu.Lock()
	m, ok := c.m[id]
	delete(c.m, id)
	c.mu.Unlock()
	if ok {
		m.Close()
	}
	return ok
}

// Close cancels every conversation and waits for their calls to return.
func (c *Conversations) Close() {
	c.mu.Lock()
	all := make([]*assistant.Manager, 0, len(c.m))
	for id, m := range c.m {
		all = append(all, m)
		delete(c.m, id)
	}
	c.mu.Unlock()
	for _, m := range all {
		m.Close()
	}
}
