package users

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/passport/authserver/core"
	"github.com/layer-3/passport/authserver/ports"
)

type account struct {
	user         core.User
	passwordHash []byte
}

// MemoryDirectory is an in-memory ports.UserDirectory storing bcrypt hashes
type MemoryDirectory struct {
	accounts map[string]account
	cost     int
	mu       sync.RWMutex

	// compared against when the user does not exist, so that unknown and
	// known usernames take the same time to reject
	dummyHash []byte
}

var _ ports.UserDirectory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates an empty directory hashing with cost
func NewMemoryDirectory(cost int) *MemoryDirectory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	dummy, _ := bcrypt.GenerateFromPassword([]byte("passport-dummy"), cost)
	return &MemoryDirectory{
		accounts:  make(map[string]account),
		cost:      cost,
		dummyHash: dummy,
	}
}

// Add registers a user with a plaintext password
func (d *MemoryDirectory) Add(user core.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return d.AddHashed(user, hash)
}

// AddHashed registers a user with an existing bcrypt hash
func (d *MemoryDirectory) AddHashed(user core.User, hash []byte) error {
	if _, err := bcrypt.Cost(hash); err != nil {
		return fmt.Errorf("invalid password hash for %s: %w", user.Username, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.accounts[user.Username]; ok {
		return core.ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	d.accounts[user.Username] = account{user: user, passwordHash: hash}

	return nil
}

// Authenticate verifies the password of username
func (d *MemoryDirectory) Authenticate(_ context.Context, username, password string) (*core.User, error) {
	d.mu.RLock()
	acc, ok := d.accounts[username]
	d.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(d.dummyHash, []byte(password))
		return nil, core.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, core.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}

	user := acc.user
	return &user, nil
}

// List returns all users ordered by username
func (d *MemoryDirectory) List(_ context.Context) ([]core.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]core.User, 0, len(d.accounts))
	for _, acc := range d.accounts {
		result = append(result, acc.user)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})

	return result, nil
}
