package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a session lives without an explicit teardown.
	DefaultTTL = time.Hour
	// DefaultSweepInterval is how often expired sessions are removed.
	DefaultSweepInterval = 5 * time.Minute

	idBytes     = 16
	secretBytes = 32
)

// Session IDs are alphanumeric, 8-32 characters. Anything else is rejected
// before the store is consulted.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9]{8,32}$`)

// ValidID reports whether id is a syntactically valid session ID.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Stats are store-level counters, exposed for diagnostics and tests.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Malformed uint64
	Swept     uint64
}

// Store holds all live pairing sessions for this process. State is volatile;
// nothing survives a restart.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	stats    Stats

	// now is swappable so tests can control expiry.
	now func() time.Time
}

// NewStore creates an empty store. A ttl of 0 means DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create generates a new session with a random ID and secret.
func (s *Store) Create() (*Session, error) {
	id, err := randomHex(idBytes)
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	secret, err := randomHex(secretBytes)
	if err != nil {
		return nil, fmt.Errorf("generating session secret: %w", err)
	}

	now := s.now()
	sess := &Session{
		ID:           id,
		Secret:       secret,
		Status:       StatusPairing,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
		LastActivity: now,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return snapshot(sess), nil
}

// Get returns a snapshot of the session, or false if the ID is malformed,
// unknown, or expired. Expired sessions are evicted as a side effect.
// Malformed IDs never touch the session map.
func (s *Store) Get(id string) (*Session, bool) {
	if !ValidID(id) {
		s.mu.Lock()
		s.stats.Malformed++
		s.mu.Unlock()
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		s.stats.Misses++
		return nil, false
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, id)
		s.stats.Misses++
		return nil, false
	}
	sess.LastActivity = s.now()
	s.stats.Hits++
	return snapshot(sess), true
}

// Update applies mutate to the session and refreshes lastActivity. Returns
// false if the session is gone; callers must treat that as a definite
// failure, not something to retry.
func (s *Store) Update(id string, mutate func(*Session)) bool {
	if !ValidID(id) {
		s.mu.Lock()
		s.stats.Malformed++
		s.mu.Unlock()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		s.stats.Misses++
		return false
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, id)
		s.stats.Misses++
		return false
	}
	mutate(sess)
	sess.LastActivity = s.now()
	s.stats.Hits++
	return true
}

// Delete removes a session outright. Reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Sweep removes all expired sessions and returns how many were removed.
// Idempotent; safe to call at any time.
func (s *Store) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	s.stats.Swept += uint64(removed)
	return removed
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Len returns the number of stored sessions, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// All returns snapshots of every stored session. Debugging aid.
func (s *Store) All() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, snapshot(sess))
	}
	return out
}

// Stats returns a copy of the store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func snapshot(sess *Session) *Session {
	cp := *sess
	return &cp
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
