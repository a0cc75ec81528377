package passport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager owns the persisted session: login, logout and the single-flight
// refresh of an expired access token. All state transitions are written to
// Storage immediately; the only in-memory state is the refresh flight.
type Manager struct {
	storage   Storage
	auth      Authenticator
	logger    *zap.Logger
	publisher EventPublisher
	metrics   *Metrics

	key            string
	now            func() time.Time
	leeway         time.Duration
	refreshTimeout time.Duration

	flights singleflight.Group
}

// New creates a new Manager
func New(storage Storage, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		storage:        storage,
		auth:           auth,
		logger:         zap.NewNop(),
		key:            DefaultStorageKey,
		now:            time.Now,
		refreshTimeout: DefaultRefreshTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Login sends credentials to the login endpoint and persists the returned pair.
// Endpoint failures are returned wrapped in ErrTransport and are not retried.
func (m *Manager) Login(ctx context.Context, credentials Credentials) (SessionToken, error) {
	token, err := m.auth.Login(ctx, credentials)
	if err != nil {
		m.metrics.login(err)
		m.logger.Warn("login failed", zap.String("username", credentials.Username), zap.Error(err))
		return SessionToken{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if err := m.persist(ctx, token); err != nil {
		m.metrics.login(err)
		m.logger.Error("failed to persist session after login", zap.String("username", credentials.Username), zap.Error(err))
		return SessionToken{}, err
	}
	m.metrics.login(nil)

	m.logger.Info("logged in", zap.String("username", credentials.Username))
	m.publish(ctx, EventLogin, token)

	return token, nil
}

// Logout clears the persisted session. It makes no network call and never fails;
// storage errors are logged.
func (m *Manager) Logout(ctx context.Context) {
	m.logout(ctx, EventLogout)
}

// GetCurrentToken reads the persisted pair without validating it.
// Missing or unreadable data yields ErrNotLoggedIn.
func (m *Manager) GetCurrentToken(ctx context.Context) (SessionToken, error) {
	raw, err := m.storage.Get(ctx, m.key)
	if err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			m.logger.Warn("failed to read persisted session", zap.Error(err))
		}
		return SessionToken{}, ErrNotLoggedIn
	}

	token, err := decodeToken(raw)
	if err != nil {
		m.logger.Warn("persisted session is unreadable", zap.Error(err))
		return SessionToken{}, ErrNotLoggedIn
	}

	if token == (SessionToken{}) {
		return SessionToken{}, ErrNotLoggedIn
	}

	return token, nil
}

// GetValidToken returns a pair whose access token has not expired, refreshing
// it first when needed. Concurrent callers that find the token expired share
// one refresh call. Any failure ends the session and yields ErrNotLoggedIn;
// a follower whose ctx is done returns ctx.Err().
func (m *Manager) GetValidToken(ctx context.Context) (SessionToken, error) {
	token, err := m.GetCurrentToken(ctx)
	if err != nil {
		m.logout(ctx, "")
		return SessionToken{}, ErrNotLoggedIn
	}

	if token.IsZero() {
		m.logger.Warn("discarding session without access token")
		m.logout(ctx, EventLogout)
		return SessionToken{}, ErrNotLoggedIn
	}

	expired, err := m.expired(token)
	if err != nil {
		m.logger.Warn("discarding session with malformed access token", zap.Error(err))
		m.logout(ctx, EventLogout)
		return SessionToken{}, ErrNotLoggedIn
	}

	if !expired {
		return token, nil
	}

	return m.refresh(ctx, token)
}

// refresh joins the refresh flight for the session key. The caller whose
// function runs is the leader and gets the flight's result; followers re-read
// storage, which the leader writes before the flight completes.
func (m *Manager) refresh(ctx context.Context, stale SessionToken) (SessionToken, error) {
	leader := false
	flight := m.flights.DoChan(m.key, func() (any, error) {
		leader = true
		return m.runRefresh(ctx, stale)
	})

	var res singleflight.Result
	select {
	case res = <-flight:
	case <-ctx.Done():
		return SessionToken{}, ctx.Err()
	}

	if leader {
		if res.Err != nil {
			return SessionToken{}, ErrNotLoggedIn
		}
		return res.Val.(SessionToken), nil
	}

	m.metrics.follower()

	token, err := m.GetCurrentToken(ctx)
	if err != nil || token.IsZero() {
		return SessionToken{}, ErrNotLoggedIn
	}

	return token, nil
}

func (m *Manager) runRefresh(ctx context.Context, stale SessionToken) (SessionToken, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
	defer cancel()

	current, err := m.GetCurrentToken(ctx)
	if err != nil || current.IsZero() {
		// logged out while this caller was on its way here
		return SessionToken{}, ErrNotLoggedIn
	}

	// A previous flight may have completed after the caller read the stale pair.
	if current.Access != stale.Access {
		if expired, err := m.expired(current); err == nil && !expired {
			return current, nil
		}
	}

	fresh, err := m.auth.Refresh(ctx, current.Refresh)
	m.metrics.refresh(err)
	if err != nil {
		m.logger.Warn("refresh failed, ending session", zap.Error(err))
		m.logout(ctx, EventRefreshFailed)
		return SessionToken{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if err := m.persist(ctx, fresh); err != nil {
		m.logger.Error("failed to persist refreshed session", zap.Error(err))
		m.logout(ctx, EventRefreshFailed)
		return SessionToken{}, err
	}

	m.logger.Debug("session refreshed")
	m.publish(ctx, EventRefreshed, fresh)

	return fresh, nil
}

func (m *Manager) expired(token SessionToken) (bool, error) {
	expiresAt, ok, err := token.ExpiresAt()
	if err != nil {
		return false, err
	}

	// no exp claim: nothing tells us to refresh
	if !ok {
		return false, nil
	}

	return m.now().Add(m.leeway).After(expiresAt), nil
}

func (m *Manager) persist(ctx context.Context, token SessionToken) error {
	raw, err := encodeToken(token)
	if err != nil {
		return err
	}

	if err := m.storage.Set(ctx, m.key, raw); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	return nil
}

// logout removes the persisted session. An empty kind clears silently, which
// is used when there was nothing to log out of.
func (m *Manager) logout(ctx context.Context, kind EventKind) {
	ctx = context.WithoutCancel(ctx)

	if err := m.storage.Remove(ctx, m.key); err != nil {
		m.logger.Error("failed to remove persisted session", zap.Error(err))
	}

	if kind == "" {
		return
	}

	m.metrics.logout()
	m.publish(ctx, kind, SessionToken{})
}

func (m *Manager) publish(ctx context.Context, kind EventKind, token SessionToken) {
	if m.publisher == nil {
		return
	}

	event := SessionEvent{
		Kind:       kind,
		OccurredAt: m.now(),
	}
	if !token.IsZero() {
		if expiresAt, ok, err := token.ExpiresAt(); err == nil && ok {
			event.ExpiresAt = expiresAt
		}
	}

	// Publishing is best effort; the storage write is the critical part
	if err := m.publisher.PublishSessionEvent(ctx, event); err != nil {
		m.logger.Warn("failed to publish session event", zap.String("kind", string(kind)), zap.Error(err))
	}
}
