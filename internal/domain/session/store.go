package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no session with the given id exists.
var ErrNotFound = errors.New("session not found")

// Store persists the set of live sessions. The default implementation is an
// in-memory map (internal/adapter/outbound/memory, which the HTTP transport
// constructs); a distributed
// deployment could back this with a shared KV store instead, per spec §6's
// "session.store" config key.
type Store interface {
	Put(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
}
