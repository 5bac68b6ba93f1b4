package upstream

import (
	"context"
	"errors"
)

// Sentinel errors for spec store operations.
var (
	// ErrNotFound is returned when no Spec with the given id exists.
	ErrNotFound = errors.New("upstream not found")
	// ErrDuplicateID is returned when a Spec with the given id already exists.
	ErrDuplicateID = errors.New("duplicate upstream id")
)

// SpecStore provides CRUD operations over the set of configured upstreams.
// It is a port in the hexagonal sense. No package in this module implements
// or consumes it; the CLI's `mcp add/remove/get/list` subcommands edit the
// config file directly.
type SpecStore interface {
	// List returns all configured upstream specs.
	List(ctx context.Context) ([]Spec, error)
	// Get returns a single spec by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Spec, error)
	// Add stores a new spec. Returns ErrDuplicateID if id is already present.
	Add(ctx context.Context, spec *Spec) error
	// Update replaces an existing spec. Returns ErrNotFound if absent.
	Update(ctx context.Context, spec *Spec) error
	// Delete removes a spec by id. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error
}
