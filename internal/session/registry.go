// Package session maps session keys to live chat handles. The registry is
// the sole authority on whether a session exists; a chat handle is created
// at most once per key and reused for every later message, which is what
// gives a session its conversational memory.
package session

import (
	"fmt"
	"sync"
	"time"

	"courier/internal/agent"
)

// Resolver maps an agent alias to a resolved agent handle.
type Resolver interface {
	Resolve(name string) (agent.Handle, error)
}

// Entry is one live session. The chat handle identity is fixed for the
// entry's lifetime and the agent binding is immutable once created.
type Entry struct {
	Chat      agent.Chat
	AgentName string
	CreatedAt time.Time
}

// Info is the listing view of an entry.
type Info struct {
	SessionID string    `json:"sessionId"`
	AgentName string    `json:"agentName"`
	CreatedAt time.Time `json:"createdAt"`
}

type Registry struct {
	mu       sync.Mutex
	resolver Resolver
	entries  map[string]*Entry
}

func NewRegistry(resolver Resolver) *Registry {
	return &Registry{
		resolver: resolver,
		entries:  make(map[string]*Entry),
	}
}

// GetOrCreate returns the entry for sessionID, creating it if absent. For an
// existing id the stored agent binding wins over agentName. For a new
// session the agent is resolved first, so an unknown name never leaves a
// registry entry behind; when sessionID is empty a timestamp-seeded key is
// synthesized. Lookup and insert happen under one lock, so two concurrent
// creations of the same key cannot both construct a chat handle.
func (r *Registry) GetOrCreate(agentName, sessionID string) (string, *Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != "" {
		if e, ok := r.entries[sessionID]; ok {
			return sessionID, e, nil
		}
	}

	h, err := r.resolver.Resolve(agentName)
	if err != nil {
		return "", nil, err
	}

	id := sessionID
	if id == "" {
		id = r.newSessionID(h.Descriptor().ID)
	}

	e := &Entry{
		Chat:      h.NewChat(id),
		AgentName: h.Descriptor().ID,
		CreatedAt: time.Now(),
	}
	r.entries[id] = e
	return id, e, nil
}

// Lookup is a pure read; it never creates an entry.
func (r *Registry) Lookup(sessionID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionID]
	return e, ok
}

func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, Info{SessionID: id, AgentName: e.AgentName, CreatedAt: e.CreatedAt})
	}
	return out
}

// Delete removes a session, reporting whether it existed.
func (r *Registry) Delete(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// newSessionID synthesizes a timestamp-seeded key. Callers hold r.mu, so
// probing for a free key keeps ids unique even when two sessions for the
// same agent land in the same millisecond.
func (r *Registry) newSessionID(agentName string) string {
	ts := time.Now().UnixMilli()
	for {
		id := fmt.Sprintf("session-%s-%d", agentName, ts)
		if _, ok := r.entries[id]; !ok {
			return id
		}
		ts++
	}
}
