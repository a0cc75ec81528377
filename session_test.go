package passport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errEndpointDown = errors.New("endpoint down")

type fakeAuthenticator struct {
	loginCalls   atomic.Int32
	refreshCalls atomic.Int32

	login   func(ctx context.Context, credentials Credentials) (SessionToken, error)
	refresh func(ctx context.Context, refreshToken string) (SessionToken, error)
}

func (f *fakeAuthenticator) Login(ctx context.Context, credentials Credentials) (SessionToken, error) {
	f.loginCalls.Add(1)
	return f.login(ctx, credentials)
}

func (f *fakeAuthenticator) Refresh(ctx context.Context, refreshToken string) (SessionToken, error) {
	f.refreshCalls.Add(1)
	return f.refresh(ctx, refreshToken)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (p *recordingPublisher) PublishSessionEvent(_ context.Context, event SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) kinds() []EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]EventKind, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func mintAccess(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ID:        uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func freshPair(t *testing.T) SessionToken {
	t.Helper()
	return SessionToken{
		Access:  mintAccess(t, time.Now().Add(time.Hour)),
		Refresh: "refresh-" + uuid.NewString(),
	}
}

func expiredPair(t *testing.T) SessionToken {
	t.Helper()
	return SessionToken{
		Access:  mintAccess(t, time.Unix(1, 0)),
		Refresh: "refresh-" + uuid.NewString(),
	}
}

func newTestManager(t *testing.T, auth *fakeAuthenticator, opts ...Option) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(store, auth, opts...), store
}

func seed(t *testing.T, m *Manager, token SessionToken) {
	t.Helper()
	require.NoError(t, m.persist(context.Background(), token))
}

func TestLoginPersistsServerResponse(t *testing.T) {
	ctx := context.Background()
	issued := freshPair(t)
	auth := &fakeAuthenticator{
		login: func(_ context.Context, credentials Credentials) (SessionToken, error) {
			assert.Equal(t, Credentials{Username: "alice", Password: "secret"}, credentials)
			return issued, nil
		},
	}
	m, _ := newTestManager(t, auth)

	token, err := m.Login(ctx, Credentials{Username: "alice", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, issued, token)

	current, err := m.GetCurrentToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, issued, current)

	valid, err := m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, issued, valid)

	assert.EqualValues(t, 1, auth.loginCalls.Load())
	assert.EqualValues(t, 0, auth.refreshCalls.Load())
}

func TestLoginFailureSurfacesTransportError(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthenticator{
		login: func(context.Context, Credentials) (SessionToken, error) {
			return SessionToken{}, errEndpointDown
		},
	}
	m, store := newTestManager(t, auth)

	_, err := m.Login(ctx, Credentials{Username: "alice", Password: "wrong"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, errEndpointDown)

	_, err = store.Get(ctx, DefaultStorageKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.EqualValues(t, 1, auth.loginCalls.Load())
}

func TestGetValidTokenReturnsUnexpiredTokenUnchanged(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthenticator{}
	m, _ := newTestManager(t, auth)
	stored := freshPair(t)
	seed(t, m, stored)

	for i := 0; i < 3; i++ {
		token, err := m.GetValidToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, stored, token)
	}

	assert.EqualValues(t, 0, auth.refreshCalls.Load())
}

func TestGetValidTokenRefreshesExpiredToken(t *testing.T) {
	ctx := context.Background()
	stale := expiredPair(t)
	renewed := freshPair(t)
	auth := &fakeAuthenticator{
		refresh: func(_ context.Context, refreshToken string) (SessionToken, error) {
			assert.Equal(t, stale.Refresh, refreshToken)
			return renewed, nil
		},
	}
	m, _ := newTestManager(t, auth)
	seed(t, m, stale)

	token, err := m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, renewed, token)
	assert.EqualValues(t, 1, auth.refreshCalls.Load())

	expiresAt, ok, err := token.ExpiresAt()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, expiresAt.After(time.Now()))

	current, err := m.GetCurrentToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, renewed, current)
}

func TestGetValidTokenTwoCallersShareOneRefresh(t *testing.T) {
	ctx := context.Background()
	renewed := freshPair(t)
	auth := &fakeAuthenticator{
		refresh: func(context.Context, string) (SessionToken, error) {
			time.Sleep(50 * time.Millisecond)
			return renewed, nil
		},
	}
	m, _ := newTestManager(t, auth)
	seed(t, m, expiredPair(t))

	var wg sync.WaitGroup
	results := make([]SessionToken, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetValidToken(ctx)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, renewed, results[i])
	}
	assert.EqualValues(t, 1, auth.refreshCalls.Load())
}

func TestGetValidTokenSingleFlightUnderLoad(t *testing.T) {
	const callers = 32

	ctx := context.Background()
	renewed := freshPair(t)
	started := make(chan struct{})
	release := make(chan struct{})
	auth := &fakeAuthenticator{
		refresh: func(context.Context, string) (SessionToken, error) {
			close(started)
			<-release
			return renewed, nil
		},
	}
	m, _ := newTestManager(t, auth)
	seed(t, m, expiredPair(t))

	gate := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan SessionToken, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			token, err := m.GetValidToken(ctx)
			results <- token
			errs <- err
		}()
	}

	close(gate)
	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for token := range results {
		assert.Equal(t, renewed, token)
	}
	assert.EqualValues(t, 1, auth.refreshCalls.Load())
}

func TestGetValidTokenRefreshFailureEndsSession(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthenticator{
		refresh: func(context.Context, string) (SessionToken, error) {
			time.Sleep(20 * time.Millisecond)
			return SessionToken{}, errEndpointDown
		},
	}
	m, store := newTestManager(t, auth)
	seed(t, m, expiredPair(t))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetValidToken(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrNotLoggedIn)
	}
	assert.EqualValues(t, 1, auth.refreshCalls.Load())

	_, err := m.GetCurrentToken(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = store.Get(ctx, DefaultStorageKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestGetValidTokenMalformedAccessToken(t *testing.T) {
	tests := []struct {
		name   string
		access string
	}{
		{name: "single segment", access: "not-a-jwt"},
		{name: "four segments", access: "a.eyJleHAiOjF9.c.d"},
		{name: "payload not base64", access: "eyJhbGciOiJIUzI1NiJ9.!!!.sig"},
		{name: "payload not json", access: "eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24.sig"},
		{name: "exp not a number", access: "eyJhbGciOiJIUzI1NiJ9.eyJleHAiOiJzb29uIn0.sig"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			auth := &fakeAuthenticator{}
			m, store := newTestManager(t, auth)
			seed(t, m, SessionToken{Access: tt.access, Refresh: "r"})

			_, err := m.GetValidToken(ctx)
			assert.ErrorIs(t, err, ErrNotLoggedIn)

			_, err = store.Get(ctx, DefaultStorageKey)
			assert.ErrorIs(t, err, ErrKeyNotFound)
			assert.EqualValues(t, 0, auth.refreshCalls.Load())
		})
	}
}

func TestGetValidTokenIgnoresHeader(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString(
		[]byte(fmt.Sprintf(`{"exp":%d}`, time.Now().Add(time.Hour).Unix())),
	)
	tests := []struct {
		name   string
		header string
	}{
		// {"typ":"JWT"}
		{name: "no alg", header: "eyJ0eXAiOiJKV1QifQ"},
		// {"alg":"ES256K"}
		{name: "unregistered alg", header: "eyJhbGciOiJFUzI1NksifQ"},
		{name: "header not json", header: "bm90LWpzb24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			auth := &fakeAuthenticator{}
			m, _ := newTestManager(t, auth)
			stored := SessionToken{Access: tt.header + "." + payload + ".sig", Refresh: "r"}
			seed(t, m, stored)

			token, err := m.GetValidToken(ctx)
			require.NoError(t, err)
			assert.Equal(t, stored, token)

			current, err := m.GetCurrentToken(ctx)
			require.NoError(t, err)
			assert.Equal(t, stored, current)
			assert.EqualValues(t, 0, auth.refreshCalls.Load())
		})
	}
}

func TestGetValidTokenWithoutAccessTokenLogsOut(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, &fakeAuthenticator{})
	require.NoError(t, store.Set(ctx, DefaultStorageKey, `{"refresh":"r"}`))

	_, err := m.GetValidToken(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	_, err = store.Get(ctx, DefaultStorageKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestGetCurrentTokenTreatsCorruptDataAsLoggedOut(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t, &fakeAuthenticator{})

	for _, raw := range []string{"{not json", "null", "{}", "42"} {
		require.NoError(t, store.Set(ctx, DefaultStorageKey, raw))

		_, err := m.GetCurrentToken(ctx)
		assert.ErrorIs(t, err, ErrNotLoggedIn, raw)
	}
}

func TestGetValidTokenWhenNeverLoggedIn(t *testing.T) {
	m, _ := newTestManager(t, &fakeAuthenticator{})

	_, err := m.GetValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestLogoutClearsSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, &fakeAuthenticator{})
	seed(t, m, freshPair(t))

	m.Logout(ctx)

	_, err := m.GetCurrentToken(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)

	// logging out twice is fine
	m.Logout(ctx)
}

func TestTokenWithoutExpClaimIsNotRefreshed(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthenticator{}
	m, _ := newTestManager(t, auth)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte("k"))
	require.NoError(t, err)
	stored := SessionToken{Access: signed, Refresh: "r"}
	seed(t, m, stored)

	token, err := m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored, token)
	assert.EqualValues(t, 0, auth.refreshCalls.Load())
}

func TestExpiryLeewayRefreshesEarly(t *testing.T) {
	ctx := context.Background()
	renewed := freshPair(t)
	auth := &fakeAuthenticator{
		refresh: func(context.Context, string) (SessionToken, error) {
			return renewed, nil
		},
	}
	m, _ := newTestManager(t, auth, WithExpiryLeeway(time.Minute))
	seed(t, m, SessionToken{Access: mintAccess(t, time.Now().Add(10*time.Second)), Refresh: "r"})

	token, err := m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, renewed, token)
	assert.EqualValues(t, 1, auth.refreshCalls.Load())
}

func TestClockDecidesExpiry(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthenticator{
		refresh: func(context.Context, string) (SessionToken, error) {
			return SessionToken{}, errEndpointDown
		},
	}
	future := time.Now().Add(2 * time.Hour)
	m, _ := newTestManager(t, auth, WithClock(func() time.Time { return future }))
	seed(t, m, freshPair(t))

	_, err := m.GetValidToken(ctx)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	assert.EqualValues(t, 1, auth.refreshCalls.Load())
}

func TestCancelledFollowerStopsWaiting(t *testing.T) {
	renewed := freshPair(t)
	started := make(chan struct{})
	release := make(chan struct{})
	auth := &fakeAuthenticator{
		refresh: func(context.Context, string) (SessionToken, error) {
			close(started)
			<-release
			return renewed, nil
		},
	}
	m, _ := newTestManager(t, auth)
	seed(t, m, expiredPair(t))

	leaderDone := make(chan error, 1)
	go func() {
		_, err := m.GetValidToken(context.Background())
		leaderDone <- err
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.GetValidToken(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-leaderDone)
	assert.EqualValues(t, 1, auth.refreshCalls.Load())
}

func TestCancelledLeaderDoesNotAbortRefresh(t *testing.T) {
	renewed := freshPair(t)
	started := make(chan struct{})
	release := make(chan struct{})
	auth := &fakeAuthenticator{
		refresh: func(ctx context.Context, _ string) (SessionToken, error) {
			close(started)
			<-release
			if err := ctx.Err(); err != nil {
				return SessionToken{}, err
			}
			return renewed, nil
		},
	}
	m, _ := newTestManager(t, auth)
	seed(t, m, expiredPair(t))

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := m.GetValidToken(leaderCtx)
		leaderDone <- err
	}()
	<-started

	followerDone := make(chan SessionToken, 1)
	go func() {
		token, _ := m.GetValidToken(context.Background())
		followerDone <- token
	}()

	cancel()
	assert.ErrorIs(t, <-leaderDone, context.Canceled)

	close(release)
	assert.Equal(t, renewed, <-followerDone)
	assert.EqualValues(t, 1, auth.refreshCalls.Load())
}

func TestLateJoinerReusesCompletedRefresh(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthenticator{}
	m, _ := newTestManager(t, auth)

	stale := expiredPair(t)
	renewed := freshPair(t)
	seed(t, m, renewed)

	// the caller read stale before another flight stored renewed
	token, err := m.refresh(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, renewed, token)
	assert.EqualValues(t, 0, auth.refreshCalls.Load())
}

func TestCustomStorageKey(t *testing.T) {
	ctx := context.Background()
	issued := freshPair(t)
	auth := &fakeAuthenticator{
		login: func(context.Context, Credentials) (SessionToken, error) {
			return issued, nil
		},
	}
	m, store := newTestManager(t, auth, WithStorageKey("admin-session"))

	_, err := m.Login(ctx, Credentials{Username: "alice"})
	require.NoError(t, err)

	raw, err := store.Get(ctx, "admin-session")
	require.NoError(t, err)
	assert.JSONEq(t, `{"access":"`+issued.Access+`","refresh":"`+issued.Refresh+`"}`, raw)
}

func TestSessionEventsAndMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	publisher := &recordingPublisher{}

	refreshErr := error(nil)
	auth := &fakeAuthenticator{
		login: func(context.Context, Credentials) (SessionToken, error) {
			return expiredPair(t), nil
		},
		refresh: func(context.Context, string) (SessionToken, error) {
			if refreshErr != nil {
				return SessionToken{}, refreshErr
			}
			return freshPair(t), nil
		},
	}
	m, _ := newTestManager(t, auth, WithEventPublisher(publisher), WithMetrics(metrics))

	_, err := m.Login(ctx, Credentials{Username: "alice"})
	require.NoError(t, err)
	_, err = m.GetValidToken(ctx)
	require.NoError(t, err)
	m.Logout(ctx)

	_, err = m.Login(ctx, Credentials{Username: "alice"})
	require.NoError(t, err)
	refreshErr = errEndpointDown
	_, err = m.GetValidToken(ctx)
	require.ErrorIs(t, err, ErrNotLoggedIn)

	assert.Equal(t, []EventKind{
		EventLogin, EventRefreshed, EventLogout, EventLogin, EventRefreshFailed,
	}, publisher.kinds())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.logins.WithLabelValues(resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.refreshes.WithLabelValues(resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.refreshes.WithLabelValues(resultFailure)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.logouts))
}

type failingPublisher struct{}

func (failingPublisher) PublishSessionEvent(context.Context, SessionEvent) error {
	return errors.New("broker unavailable")
}

func TestPublishFailureDoesNotFailLogin(t *testing.T) {
	issued := freshPair(t)
	auth := &fakeAuthenticator{
		login: func(context.Context, Credentials) (SessionToken, error) {
			return issued, nil
		},
	}
	m, _ := newTestManager(t, auth, WithEventPublisher(failingPublisher{}))

	token, err := m.Login(context.Background(), Credentials{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, issued, token)
}

type readOnlyStore struct {
	*MemoryStore
}

func (readOnlyStore) Set(context.Context, string, string) error {
	return ErrStoreOperationFailed
}

func TestLoginPersistFailureCountsAsFailure(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	auth := &fakeAuthenticator{
		login: func(context.Context, Credentials) (SessionToken, error) {
			return freshPair(t), nil
		},
	}
	m := New(readOnlyStore{NewMemoryStore()}, auth, WithLogger(zaptest.NewLogger(t)), WithMetrics(metrics))

	_, err := m.Login(context.Background(), Credentials{Username: "alice"})
	assert.ErrorIs(t, err, ErrStoreOperationFailed)

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.logins.WithLabelValues(resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.logins.WithLabelValues(resultFailure)))
}
