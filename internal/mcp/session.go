// ABOUTME: In-memory MCP session tracking with TTL-based expiry
// ABOUTME: Sessions bind to their creator's token so only the owner can terminate them

package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// session tracks one active MCP client session.
type session struct {
	id              string
	protocolVersion string
	clientID        string
	ownerToken      string // auth token used to verify session ownership on DELETE
	createdAt       time.Time
	lastSeen        time.Time
}

// sessionStore manages active MCP sessions. Sessions idle longer than the
// TTL are dropped both lazily on touch and by the server's sweep loop.
type sessionStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*session
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{
		ttl:      ttl,
		sessions: make(map[string]*session),
	}
}

func (s *sessionStore) create(protocolVersion, clientID, ownerToken string) *session {
	now := time.Now()
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		clientID:        clientID,
		ownerToken:      ownerToken,
		createdAt:       now,
		lastSeen:        now,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	now := time.Now()
	s.mu.RLock()
	sess, ok := s.sessions[id]
	expired := ok && s.expired(sess, now)
	s.mu.RUnlock()
	if expired {
		s.delete(id)
		return nil, false
	}
	return sess, ok
}

// touch refreshes a session's idle clock. Returns false when the session
// is unknown or already expired, in which case the client must
// re-initialize.
func (s *sessionStore) touch(id string) (*session, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(sess, now) {
		delete(s.sessions, id)
		return nil, false
	}
	sess.lastSeen = now
	return sess, true
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// prune removes every expired session and returns how many went.
func (s *sessionStore) prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			pruned++
		}
	}
	return pruned
}

func (s *sessionStore) expired(sess *session, now time.Time) bool {
	return s.ttl > 0 && now.Sub(sess.lastSeen) > s.ttl
}
