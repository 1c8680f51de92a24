// Package store persists signed-in accounts.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
)

// ErrUserNotFound is returned by updates that match no account.
var ErrUserNotFound = errors.New("user not found")

// Repository defines the interface for persisting accounts.
type Repository interface {
	// GetUser retrieves an account by ID. It returns nil, nil when missing.
	GetUser(ctx context.Context, userID string) (*identity.Identity, error)

	// GetUserByEmail retrieves an account by its normalized email. It returns nil, nil when missing.
	GetUserByEmail(ctx context.Context, email string) (*identity.Identity, error)

	// UpsertUser creates an account or updates its profile and plan. The stored
	// message count is never lowered by an upsert.
	UpsertUser(ctx context.Context, user *identity.Identity) error

	// IncrementMessageCount records one accepted message and returns the new count.
	IncrementMessageCount(ctx context.Context, userID string) (int, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
