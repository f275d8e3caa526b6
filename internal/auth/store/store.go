package store

import (
	"context"
	"errors"
	"time"

	"github.com/veridian-id/veridian/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable.
type Store interface {
	Clients() Clients
	Grants() Grants
	Resources() Resources

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back; otherwise
	// it is committed. This is the recommended way to handle transactions.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Clients interface {
	// GetClientByID fetches a client with its registered secrets.
	GetClientByID(ctx context.Context, id string) (domain.Client, error)

	// CreateClient inserts a new client and its secrets.
	CreateClient(ctx context.Context, c domain.Client) error

	// SetClientEnabled flips the enabled flag.
	SetClientEnabled(ctx context.Context, clientID string, enabled bool) error

	// DeleteClient cascades to client_secrets (per schema).
	DeleteClient(ctx context.Context, clientID string) error

	// IsEmpty returns true if there are no clients.
	IsEmpty(ctx context.Context) (bool, error)
}

type Grants interface {
	// GetGrantByKey fetches a grant by its opaque key.
	GetGrantByKey(ctx context.Context, key string) (domain.Grant, error)

	// CreateGrant stores a freshly minted grant.
	CreateGrant(ctx context.Context, g domain.Grant) error

	// ConsumeGrant marks a grant as consumed to prevent re-use.
	ConsumeGrant(ctx context.Context, key string, at time.Time) error

	// DeleteExpiredGrants removes grants past their expiration (housekeeping).
	DeleteExpiredGrants(ctx context.Context) error
}

type Resources interface {
	// GetScopeByName returns a scope definition from the registry.
	GetScopeByName(ctx context.Context, name string) (domain.Scope, error)

	// GetAPIResourceByName returns a resource server by name.
	GetAPIResourceByName(ctx context.Context, name string) (domain.APIResource, error)

	// ListAPIResourcesByScope returns the resources covering a scope.
	ListAPIResourcesByScope(ctx context.Context, scope string) ([]domain.APIResource, error)

	// CreateScope registers a scope definition.
	CreateScope(ctx context.Context, s domain.Scope) error

	// CreateAPIResource registers a resource server.
	CreateAPIResource(ctx context.Context, r domain.APIResource) error
}
