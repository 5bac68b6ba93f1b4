package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// DefaultTTL is the default idle timeout after which a session is garbage
// collected, per spec §5 ("session TTL 3600 s").
const DefaultTTL = time.Hour

// Config holds session manager configuration.
type Config struct {
	// TTL is the idle duration after which a session is collected. Zero
	// means DefaultTTL.
	TTL time.Duration
}

// Manager owns the set of live downstream sessions: creation, lookup,
// refresh, and deletion, plus the TTL sweep that garbage-collects idle ones.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager constructs a Manager backed by store.
func NewManager(store Store, cfg Config) *Manager {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl}
}

// Create allocates a fresh session with a server-generated id.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id, err := GenerateSessionID()
	if err != nil {
		return nil, err
	}
	return m.CreateWithID(ctx, id)
}

// CreateWithID allocates a session under a caller-supplied id. Per the open
// question on session id spoofing (spec §9), the hub adopts whatever id the
// client presents on initialize without verifying provenance.
func (m *Manager) CreateWithID(ctx context.Context, id string) (*Session, error) {
	sess := New(id)
	if err := m.store.Put(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by id, returning ErrNotFound if it is absent or
// has exceeded its TTL (in which case it is also deleted).
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IdleSince() > m.ttl {
		sess.Close()
		_ = m.store.Delete(ctx, id)
		return nil, ErrNotFound
	}
	return sess, nil
}

// Touch refreshes a session's last-activity time.
func (m *Manager) Touch(ctx context.Context, id string) error {
	sess, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.Touch()
	return nil
}

// Delete terminates a session, closing its stream bindings first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if sess, err := m.store.Get(ctx, id); err == nil {
		sess.Close()
	}
	return m.store.Delete(ctx, id)
}

// SweepExpired removes every session idle longer than the configured TTL,
// returning the ids it collected. Intended to run on a periodic ticker.
func (m *Manager) SweepExpired(ctx context.Context) ([]string, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var expired []string
	for _, sess := range all {
		if sess.IdleSince() > m.ttl {
			expired = append(expired, sess.ID)
		}
	}
	for _, id := range expired {
		_ = m.Delete(ctx, id)
	}
	return expired, nil
}

// GenerateSessionID creates a cryptographically random mcp-session-id: 64
// hex characters (32 bytes), mirroring the server-generated UUID the spec
// requires for clients that don't supply their own.
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
