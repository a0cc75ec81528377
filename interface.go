package passport

import (
	"context"
)

// Storage is the durable key-value boundary holding the persisted session.
// Any backend honoring get/set/remove semantics is substitutable.
type Storage interface {
	// Get retrieves a value by key. A missing key yields ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// Authenticator talks to the remote authentication endpoints
type Authenticator interface {
	// Login exchanges credentials for a token pair
	Login(ctx context.Context, credentials Credentials) (SessionToken, error)

	// Refresh exchanges a refresh token for a new token pair
	Refresh(ctx context.Context, refreshToken string) (SessionToken, error)
}

// EventPublisher represents an interface for publishing session lifecycle events
type EventPublisher interface {
	// PublishSessionEvent publishes a single event
	PublishSessionEvent(ctx context.Context, event SessionEvent) error
}

// TokenSource is what outgoing-request layers depend on
type TokenSource interface {
	GetValidToken(ctx context.Context) (SessionToken, error)
}
