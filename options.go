package passport

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultStorageKey is the key the session is persisted under
	DefaultStorageKey = "loginData"

	// DefaultRefreshTimeout bounds a single call to the refresh endpoint
	DefaultRefreshTimeout = 30 * time.Second
)

// Option configures a Manager
type Option func(*Manager)

// WithStorageKey overrides the key the session is persisted under
func WithStorageKey(key string) Option {
	return func(m *Manager) {
		m.key = key
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithExpiryLeeway makes tokens count as expired leeway before their exp claim
func WithExpiryLeeway(leeway time.Duration) Option {
	return func(m *Manager) {
		m.leeway = leeway
	}
}

// WithRefreshTimeout bounds the refresh endpoint call. The call is detached
// from the caller's context so that followers are never stranded by a
// cancelled leader.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.refreshTimeout = timeout
	}
}

// WithEventPublisher publishes session lifecycle events
func WithEventPublisher(publisher EventPublisher) Option {
	return func(m *Manager) {
		m.publisher = publisher
	}
}

// WithMetrics records session counters
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}
