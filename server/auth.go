package server

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// sessionTTL is the rolling lifetime of an admin session.
const sessionTTL = 24 * time.Hour

// sessionStore holds admin login sessions in memory. Sessions do not
// survive a restart, which is acceptable for a single-admin tool.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]time.Time
	now      func() time.Time
}

func newSessionStore() *sessionStore {
	return &sessionStore{
		sessions: make(map[string]time.Time),
		now:      time.Now,
	}
}

// create issues a fresh session token.
func (s *sessionStore) create() string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = s.now().Add(sessionTTL)
	s.mu.Unlock()
	return token
}

// valid reports whether the token belongs to a live session and, if
// so, extends it. Expired sessions are dropped on access.
func (s *sessionStore) valid(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.sessions[token]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.sessions, token)
		return false
	}
	s.sessions[token] = s.now().Add(sessionTTL)
	return true
}

func (s *sessionStore) revoke(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// checkPassword verifies the admin password. Bcrypt hashes are
// recognized by their prefix; anything else is compared as plain text
// so local setups can skip hashing.
func checkPassword(configured, supplied string) bool {
	if configured == "" || supplied == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(supplied)) == nil
	}
	return configured == supplied
}
