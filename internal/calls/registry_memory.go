package calls

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-process Registry for tests and single-instance runs.
type MemoryRegistry struct {
	mu       sync.Mutex
	sessions map[SessionID]Session
	slots    map[string]int
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: map[SessionID]Session{}, slots: map[string]int{}}
}

func (r *MemoryRegistry) Put(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id SessionID) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	return nil
}

func (r *MemoryRegistry) ListByOwner(_ context.Context, ownerID string) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if ownerID != "" && s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (r *MemoryRegistry) Acquire(_ context.Context, ownerID string, limit int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[ownerID] >= limit {
		return false, nil
	}
	r.slots[ownerID]++
	return true, nil
}

func (r *MemoryRegistry) Release(_ context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots[ownerID] <= 1 {
		delete(r.slots, ownerID)
		return nil
	}
	r.slots[ownerID]--
	return nil
}
