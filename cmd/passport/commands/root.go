package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/adapters/authclient"
	"github.com/layer-3/passport/adapters/events"
)

const (
	envPrefix       = "PASSPORT"
	defaultStateDir = ".passport"
)

// Options are shared by every subcommand
type Options struct {
	Server         string `mapstructure:"server"`
	StateDir       string `mapstructure:"state-dir"`
	RedisURL       string `mapstructure:"redis-url"`
	EventsRedisURL string `mapstructure:"events-redis-url"`
	EventsTopic    string `mapstructure:"events-topic"`
	StorageKey     string `mapstructure:"storage-key"`
	Verbose        bool   `mapstructure:"verbose"`
}

func newOptions() *Options {
	return &Options{
		Server:      "http://localhost:9000",
		StateDir:    defaultStateDirPath(),
		EventsTopic: events.DefaultTopic,
		StorageKey:  passport.DefaultStorageKey,
	}
}

// AddFlags binds the options to command-line flags
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Server, "server", o.Server, "Base URL of the auth server.")
	fs.StringVar(&o.StateDir, "state-dir", o.StateDir, "Directory the session is persisted in.")
	fs.StringVar(&o.RedisURL, "redis-url", o.RedisURL, "Persist the session in Redis instead of the state directory.")
	fs.StringVar(&o.EventsRedisURL, "events-redis-url", o.EventsRedisURL, "Publish session events to this Redis stream server.")
	fs.StringVar(&o.EventsTopic, "events-topic", o.EventsTopic, "Stream session events are published to.")
	fs.StringVar(&o.StorageKey, "storage-key", o.StorageKey, "Key the session is persisted under.")
	fs.BoolVarP(&o.Verbose, "verbose", "v", o.Verbose, "Log to stderr.")
}

// NewRootCommand creates the passport CLI
func NewRootCommand() *cobra.Command {
	opts := newOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:           "passport",
		Short:         "Keep a login session and hand out valid access tokens",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
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

			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return viper.Unmarshal(opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a configuration file.")
	opts.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		LoginCommand(opts),
		LogoutCommand(opts),
		TokenCommand(opts),
		StatusCommand(opts),
		UsersCommand(opts),
		WhoamiCommand(opts),
	)

	return cmd
}

func defaultStateDirPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultStateDir
	}
	return filepath.Join(home, defaultStateDir)
}

// session holds a Manager and whatever it was built on
type session struct {
	*passport.Manager
	closers []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openSession(ctx context.Context, opts *Options) (*session, error) {
	logger := newLogger(opts.Verbose)
	s := &session{closers: []func() error{func() error { _ = logger.Sync(); return nil }}}

	storage, err := openStorage(ctx, opts, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	managerOpts := []passport.Option{
		passport.WithLogger(logger),
		passport.WithStorageKey(opts.StorageKey),
	}

	if opts.EventsRedisURL != "" {
		publisher, err := openPublisher(opts, storage, s)
		if err != nil {
			s.Close()
			return nil, err
		}
		managerOpts = append(managerOpts, passport.WithEventPublisher(publisher))
	}

	s.Manager = passport.New(
		storage,
		authclient.New(opts.Server, authclient.WithLogger(logger)),
		managerOpts...,
	)

	return s, nil
}

func openStorage(ctx context.Context, opts *Options, s *session) (passport.Storage, error) {
	if opts.RedisURL != "" {
		store, err := passport.DialRedisStore(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	}

	store, err := passport.NewFileStore(opts.StateDir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func openPublisher(opts *Options, storage passport.Storage, s *session) (passport.EventPublisher, error) {
	var client redis.UniversalClient
	if store, ok := storage.(*passport.RedisStore); ok && opts.EventsRedisURL == opts.RedisURL {
		client = store.Client()
	} else {
		redisOpts, err := redis.ParseURL(opts.EventsRedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse events Redis URL: %w", err)
		}
		c := redis.NewClient(redisOpts)
		s.closers = append(s.closers, c.Close)
		client = c
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis publisher: %w", err)
	}
	s.closers = append(s.closers, publisher.Close)

	return events.NewWatermillPublisher(publisher, opts.EventsTopic), nil
}
