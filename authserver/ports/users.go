package ports

import (
	"context"

	"github.com/layer-3/passport/authserver/core"
)

// UserDirectory verifies credentials and lists accounts
type UserDirectory interface {
	// Authenticate returns the user when password matches, core.ErrInvalidCredentials otherwise
	Authenticate(ctx context.Context, username, password string) (*core.User, error)

	// List returns all users ordered by username
	List(ctx context.Context) ([]core.User, error)
}
