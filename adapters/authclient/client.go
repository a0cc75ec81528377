package authclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/layer-3/passport"
)

const (
	DefaultLoginPath   = "/login/"
	DefaultRefreshPath = "/refresh/"
	DefaultTimeout     = 15 * time.Second
)

// ErrEmptyToken is returned when the server answers 2xx without an access token
var ErrEmptyToken = errors.New("server returned an empty access token")

// StatusError is returned when the server answers with a non-2xx status
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

type (
	// Option configures a Client
	Option func(*config)

	config struct {
		loginPath   string
		refreshPath string
		timeout     time.Duration
		httpClient  *http.Client
		logger      *zap.Logger
	}

	// Client implements passport.Authenticator against the login and refresh endpoints
	Client struct {
		rest        *resty.Client
		loginPath   string
		refreshPath string
	}

	refreshRequest struct {
		Refresh string `json:"refresh"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

// New creates a new Client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	cfg := config{
		loginPath:   DefaultLoginPath,
		refreshPath: DefaultRefreshPath,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rest := resty.New()
	if cfg.httpClient != nil {
		rest = resty.NewWithClient(cfg.httpClient)
	}
	rest.SetBaseURL(baseURL).
		SetTimeout(cfg.timeout).
		SetHeader("Accept", "application/json")
	if cfg.logger != nil {
		withLogging(rest, cfg.logger)
	}

	return &Client{
		rest:        rest,
		loginPath:   cfg.loginPath,
		refreshPath: cfg.refreshPath,
	}
}

// WithPaths overrides the endpoint paths
func WithPaths(loginPath, refreshPath string) Option {
	return func(c *config) {
		c.loginPath = loginPath
		c.refreshPath = refreshPath
	}
}

// WithTimeout overrides the per-request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.timeout = timeout
	}
}

// WithHTTPClient replaces the underlying transport client
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) {
		c.httpClient = client
	}
}

// WithLogger logs every endpoint call
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func withLogging(rest *resty.Client, logger *zap.Logger) {
	rest.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug("auth endpoint call completed",
			zap.String("method", resp.Request.Method),
			zap.String("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("duration", resp.Time()),
		)
		return nil
	})
	rest.OnError(func(req *resty.Request, err error) {
		logger.Warn("auth endpoint call failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(err),
		)
	})
}

// Login posts the credentials to the login endpoint
func (c *Client) Login(ctx context.Context, credentials passport.Credentials) (passport.SessionToken, error) {
	return c.post(ctx, c.loginPath, credentials)
}

// Refresh posts the refresh token to the refresh endpoint
func (c *Client) Refresh(ctx context.Context, refreshToken string) (passport.SessionToken, error) {
	return c.post(ctx, c.refreshPath, refreshRequest{Refresh: refreshToken})
}

func (c *Client) post(ctx context.Context, path string, body any) (passport.SessionToken, error) {
	var token passport.SessionToken
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&token).
		SetError(&errorResponse{}).
		Post(path)
	if err != nil {
		return passport.SessionToken{}, fmt.Errorf("failed to call %s: %w", path, err)
	}

	if resp.IsError() || resp.StatusCode() >= http.StatusMultipleChoices {
		statusErr := &StatusError{Code: resp.StatusCode()}
		if e, ok := resp.Error().(*errorResponse); ok && e != nil {
			statusErr.Message = e.Error
		}
		return passport.SessionToken{}, statusErr
	}

	if token.IsZero() {
		return passport.SessionToken{}, ErrEmptyToken
	}

	return token, nil
}
