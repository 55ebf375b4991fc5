package domain

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNoSession          = errors.New("no session for identity")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Session is a registry entry: an authenticated repository client plus the
// opaque id handed to the browser.
type Session struct {
	ID        string     `json:"id"`
	DID       string     `json:"did"`
	Handle    string     `json:"handle"`
	CSRFToken string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	Client    RepoClient `json:"-"`
}

// SessionRepository holds live sessions. Entries are inserted and removed
// wholesale, never mutated in place.
type SessionRepository interface {
	Create(session *Session) error
	Get(id string) (*Session, error)
	Delete(id string) error
	FindByDID(did string) (*Session, error)
	Count() int
}
