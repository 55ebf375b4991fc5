// Package session holds authenticated contexts in memory. Entries do not
// survive a restart; users log in again.
package session

import (
	"sync"

	"friendclub/internal/domain"
	"friendclub/internal/observability"
)

// Registry is a concurrency-safe map of session id to session, with a
// secondary index by DID for the reconciler.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	byDID    map[string]map[string]struct{}
}

var _ domain.SessionRepository = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*domain.Session),
		byDID:    make(map[string]map[string]struct{}),
	}
}

// Create stores s under s.ID. Re-using an id replaces the previous entry.
func (r *Registry) Create(s *domain.Session) error {
	if s == nil || s.ID == "" || s.DID == "" || s.Client == nil {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[s.ID]; ok {
		r.unindexLocked(old)
	}

	r.sessions[s.ID] = s
	ids := r.byDID[s.DID]
	if ids == nil {
		ids = make(map[string]struct{})
		r.byDID[s.DID] = ids
	}
	ids[s.ID] = struct{}{}

	observability.SessionsActive.Set(float64(len(r.sessions)))
	return nil
}

func (r *Registry) Get(id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Delete removes id; a missing id is not an error.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		r.unindexLocked(s)
	}

	observability.SessionsActive.Set(float64(len(r.sessions)))
	return nil
}

// FindByDID returns any session for did. Which one is unspecified; all carry
// equivalent authority.
func (r *Registry) FindByDID(did string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id := range r.byDID[did] {
		if s, ok := r.sessions[id]; ok {
			return s, nil
		}
	}
	return nil, domain.ErrNoSession
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) unindexLocked(s *domain.Session) {
	ids := r.byDID[s.DID]
	delete(ids, s.ID)
	if len(ids) == 0 {
		delete(r.byDID, s.DID)
	}
}
