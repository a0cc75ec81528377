package ports

import (
	"context"
	"time"
)

// Store keeps the IDs of refresh tokens that may no longer be used
type Store interface {
	// InvalidateToken marks tokenID invalid for expiry. It reports whether the
	// token was already invalidated; check and mark happen atomically, so of
	// concurrent callers with the same tokenID exactly one sees false.
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) (alreadyInvalidated bool, err error)
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}
