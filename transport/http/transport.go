package http

import (
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/layer-3/passport"
)

// Transport is an http.RoundTripper that authorizes every request with the
// current session's access token, refreshing it first when it has expired.
// When there is no session the request is not sent and passport.ErrNotLoggedIn
// is returned; redirecting to a login flow is up to the caller.
type Transport struct {
	Tokens passport.TokenSource
	Base   http.RoundTripper
}

// NewClient returns an *http.Client whose requests carry the session's bearer token
func NewClient(tokens passport.TokenSource) *http.Client {
	return &http.Client{
		Transport: &Transport{Tokens: tokens},
	}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Tokens.GetValidToken(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, err
	}

	// RoundTrippers must not modify the caller's request
	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", bearer(token))

	return t.base().RoundTrip(authorized)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// WithSessionAuth makes a resty client attach the session's bearer token to
// every request. Requests fail with passport.ErrNotLoggedIn when there is no session.
func WithSessionAuth(tokens passport.TokenSource) func(*resty.Client) {
	return func(c *resty.Client) {
		c.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			token, err := tokens.GetValidToken(req.Context())
			if err != nil {
				return err
			}

			req.SetHeader("Authorization", bearer(token))
			return nil
		})
	}
}

func bearer(token passport.SessionToken) string {
	return "Bearer " + token.Access
}
