package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/layer-3/passport/authserver/adapters/store"
	"github.com/layer-3/passport/authserver/adapters/tokenizer"
	"github.com/layer-3/passport/authserver/adapters/users"
	"github.com/layer-3/passport/authserver/core"
	"github.com/layer-3/passport/authserver/ports"
	"github.com/layer-3/passport/authserver/service"
	transport "github.com/layer-3/passport/authserver/transport/http"
)

const (
	envPrefix       = "PASSPORT_AUTHSERVER"
	shutdownTimeout = 10 * time.Second
)

var configFile string

// NewServerCommand creates the command that runs the auth server
func NewServerCommand() *cobra.Command {
	opts := NewServerOptions()

	cmd := &cobra.Command{
		Use:          "passport-authserver",
		Short:        "Username/password login server issuing rotating JWT pairs",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := viper.Unmarshal(opts); err != nil {
				return fmt.Errorf("failed to unmarshal configuration: %w", err)
			}
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("invalid options: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to a configuration file.")
	opts.AddFlags(cmd.Flags())

	return cmd
}

func initConfig(cmd *cobra.Command) error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindEnv("redis-url", envPrefix+"_REDIS_URL", "REDIS_URL"); err != nil {
		return err
	}

	return viper.BindPFlags(cmd.Flags())
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func run(ctx context.Context, opts *ServerOptions) error {
	logger, err := newLogger(opts.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	revocations, closeStore, err := newRevocationStore(ctx, opts.RedisURL)
	if err != nil {
		return err
	}
	defer closeStore()

	directory, err := seedUsers(opts)
	if err != nil {
		return err
	}

	authService := service.NewAuthService(
		tokenizer.NewJWTTokenizer([]byte(opts.JWTSecret), opts.Issuer),
		revocations,
		directory,
		service.WithTTLs(opts.AccessTTL, opts.RefreshTTL),
		service.WithLogger(logger),
	)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              opts.Addr,
		Handler:           transport.SetupRouter(authService, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("auth server listening", zap.String("addr", opts.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down auth server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

func newRevocationStore(ctx context.Context, redisURL string) (ports.Store, func(), error) {
	if redisURL == "" {
		return store.NewMemoryStore(), func() {}, nil
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return store.NewRedisStore(client), func() { _ = client.Close() }, nil
}

func seedUsers(opts *ServerOptions) (*users.MemoryDirectory, error) {
	directory := users.NewMemoryDirectory(opts.BcryptCost)

	for _, entry := range opts.Users {
		username, secret, _ := splitUser(entry)
		user := core.User{Username: username, CreatedAt: time.Now()}

		var err error
		if strings.HasPrefix(secret, "$2") {
			err = directory.AddHashed(user, []byte(secret))
		} else {
			err = directory.Add(user, secret)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to seed user %s: %w", username, err)
		}
	}

	return directory, nil
}
