package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/layer-3/passport/authserver/service"
)

// ServerOptions contains the configuration of the auth server
type ServerOptions struct {
	Addr       string        `mapstructure:"addr"`
	JWTSecret  string        `mapstructure:"jwt-secret"`
	Issuer     string        `mapstructure:"issuer"`
	AccessTTL  time.Duration `mapstructure:"access-ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh-ttl"`
	RedisURL   string        `mapstructure:"redis-url"`
	BcryptCost int           `mapstructure:"bcrypt-cost"`
	LogLevel   string        `mapstructure:"log-level"`

	// Users are seeded as "username:password" or "username:<bcrypt hash>"
	Users []string `mapstructure:"users"`
}

// NewServerOptions creates ServerOptions with default values
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Addr:       ":9000",
		Issuer:     "passport",
		AccessTTL:  service.DefaultAccessTTL,
		RefreshTTL: service.DefaultRefreshTTL,
		BcryptCost: 12,
		LogLevel:   "info",
	}
}

// AddFlags binds the options to command-line flags
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "addr", o.Addr, "Address to listen on.")
	fs.StringVar(&o.JWTSecret, "jwt-secret", o.JWTSecret, "HMAC secret used to sign tokens. At least 32 characters.")
	fs.StringVar(&o.Issuer, "issuer", o.Issuer, "Issuer claim of the tokens.")
	fs.DurationVar(&o.AccessTTL, "access-ttl", o.AccessTTL, "Lifetime of access tokens.")
	fs.DurationVar(&o.RefreshTTL, "refresh-ttl", o.RefreshTTL, "Lifetime of refresh tokens.")
	fs.StringVar(&o.RedisURL, "redis-url", o.RedisURL, "Redis URL for the token revocation list. In-memory when empty.")
	fs.IntVar(&o.BcryptCost, "bcrypt-cost", o.BcryptCost, "bcrypt cost for seeded plaintext passwords.")
	fs.StringVar(&o.LogLevel, "log-level", o.LogLevel, "Minimum log level.")
	fs.StringSliceVar(&o.Users, "users", o.Users, "Users to seed, as username:password or username:bcrypt-hash.")
}

// Validate checks whether the options are valid
func (o *ServerOptions) Validate() error {
	var errs []error

	if len(o.JWTSecret) < 32 {
		errs = append(errs, errors.New("jwt-secret must be at least 32 characters long"))
	}
	if o.AccessTTL <= 0 || o.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token lifetimes must be positive"))
	}
	if o.AccessTTL >= o.RefreshTTL {
		errs = append(errs, errors.New("access-ttl must be shorter than refresh-ttl"))
	}
	if _, err := zap.ParseAtomicLevel(o.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	for _, entry := range o.Users {
		if _, _, ok := splitUser(entry); !ok {
			errs = append(errs, fmt.Errorf("user entry %q is not username:secret", entry))
		}
	}

	return errors.Join(errs...)
}

func splitUser(entry string) (string, string, bool) {
	username, secret, ok := strings.Cut(entry, ":")
	if !ok || username == "" || secret == "" {
		return "", "", false
	}
	return username, secret, true
}
