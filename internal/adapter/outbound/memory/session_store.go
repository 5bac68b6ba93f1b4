// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hatago/hatago/internal/domain/session"
)

// DefaultCleanupInterval is how often the idle-session sweep runs when no
// interval is specified.
const DefaultCleanupInterval = 1 * time.Minute

// SessionStore implements session.Store with an in-memory map, plus a
// background sweep that collects sessions idle longer than ttl. Sessions
// are *session.Session pointers carrying live stream bindings and a mutex,
// so the store holds the same pointer callers created rather than cloning
// it.
type SessionStore struct {
	sessions map[string]*session.Session
	mu       sync.RWMutex

	ttl             time.Duration
	cleanupInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewSessionStore creates an in-memory session store with the given idle
// TTL and the default cleanup interval.
func NewSessionStore(ttl time.Duration) *SessionStore {
	return NewSessionStoreWithConfig(ttl, DefaultCleanupInterval)
}

// NewSessionStoreWithConfig creates an in-memory session store with a
// custom idle TTL and cleanup interval.
func NewSessionStoreWithConfig(ttl, cleanupInterval time.Duration) *SessionStore {
	return &SessionStore{
		sessions:        make(map[string]*session.Session),
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		stopChan:        make(chan struct{}),
	}
}

// StartCleanup starts the background goroutine that periodically evicts
// idle sessions. Call Stop to stop it gracefully.
func (s *SessionStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

func (s *SessionStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0
	for id, sess := range s.sessions {
		if sess.IdleSince() > s.ttl {
			sess.Close()
			delete(s.sessions, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("cleaned expired sessions", "count", cleaned)
	}
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *SessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Put stores sess under its ID, replacing any existing session there.
func (s *SessionStore) Put(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

// Get retrieves a session by id. It does not evict idle sessions itself —
// that's the cleanup sweep's job — so a session this call returns may still
// be past its caller's own TTL check.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

// Delete removes a session, a no-op if it isn't present.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// List returns every currently stored session.
func (s *SessionStore) List(ctx context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out, nil
}

// Size returns the number of sessions currently stored, used by the
// /health endpoint.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
