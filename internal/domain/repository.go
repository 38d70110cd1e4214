package domain

import "context"

// StateStore persists small client-side values under fixed well-known keys.
// It outlives any single session.
type StateStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Authenticator is the read side of a session that other managers depend on
// before they start talking to the backend.
type Authenticator interface {
	Authenticated() bool
	CurrentUser() (User, bool)
}
