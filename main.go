package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/naclient"
	"github.com/brandur/neoadmin/internal/nanav"
	"github.com/brandur/neoadmin/internal/nanotify"
	"github.com/brandur/neoadmin/internal/nasession"
	"github.com/brandur/neoadmin/internal/nastore"
	"github.com/brandur/neoadmin/internal/util/stringutil"
)

const defaultPort = 4434

const (
	LoginProviderAPI  = "api"
	LoginProviderMock = "mock"

	StatsSourceAPI    = "api"
	StatsSourceStatic = "static"
)

type Config struct {
	APIBaseURL            string        `env:"API_BASE_URL"             toml:"api_base_url"`
	GCSBucket             string        `env:"GCS_BUCKET"               toml:"gcs_bucket"`
	GCSServiceAccountJSON string        `env:"GCS_SERVICE_ACCOUNT_JSON" toml:"gcs_service_account_json"`
	LogLevel              string        `env:"LOG_LEVEL"                toml:"log_level"`
	LoginProvider         string        `env:"LOGIN_PROVIDER"           toml:"login_provider"`
	Port                  int           `env:"PORT"                     toml:"port"`
	RedisURL              string        `env:"REDIS_URL"                toml:"redis_url"`
	SQLitePath            string        `env:"SQLITE_PATH"              toml:"sqlite_path"`
	StatsSource           string        `env:"STATS_SOURCE"             toml:"stats_source"`
	StorageBackend        string        `env:"STORAGE_BACKEND"          toml:"storage_backend"`
	StoragePrefix         string        `env:"STORAGE_PREFIX"           toml:"storage_prefix"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL"           toml:"sweep_interval"`
}

func defaultConfig() *Config {
	return &Config{
		APIBaseURL:     "http://localhost:8080/api",
		LogLevel:       "info",
		LoginProvider:  LoginProviderMock,
		Port:           defaultPort,
		RedisURL:       "redis://localhost:6379/0",
		SQLitePath:     "neoadmin.db",
		StatsSource:    StatsSourceStatic,
		StorageBackend: StorageBackendSQLite,
		StoragePrefix:  "neoadmin",
		SweepInterval:  time.Minute,
	}
}

// Loads configuration from defaults, then the TOML file at path (if one was
// given), then the environment, with later sources taking precedence.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, xerrors.Errorf("error decoding config file %q: %w", path, err)
		}
	}

	if err := env.Parse(config); err != nil {
		return nil, xerrors.Errorf("error parsing env config: %w", err)
	}

	return config, nil
}

func main() {
	time.Local = time.UTC

	var configPath string

	rootCmd := &cobra.Command{
		Use:   "neoadmin",
		Short: "Admin console server and tools",
		Long: strings.TrimSpace(`
Server for a small admin console. Operators log in to get a session token that
expires after a fixed lifetime, and every page other than the login page is
only served to a live session.

Running with no arguments starts the server.
			`),
		Example: strings.TrimSpace(`
# start the server listening on $PORT
neoadmin serve

# evict expired keys from storage
neoadmin sweep

# end the stored session
neoadmin logout
		`),
		Run: func(cmd *cobra.Command, args []string) {
			if err := withConfig(configPath, runServe); err != nil {
				abortErr(err)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")

	// neoadmin keys
	{
		cmd := &cobra.Command{
			Use:   "keys",
			Short: "List live keys in storage",
			Long: strings.TrimSpace(`
Lists every key in storage that hasn't expired along with its value. Reading
keys evicts any that have, so this also acts as a sweep. Session tokens are
masked.
			`),
			Run: func(cmd *cobra.Command, args []string) {
				if err := withConfig(configPath, runKeys); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// neoadmin logout
	{
		cmd := &cobra.Command{
			Use:   "logout",
			Short: "End the stored session",
			Long: strings.TrimSpace(`
Removes the stored session token, forcing the next request to the console back
to the login page.
			`),
			Run: func(cmd *cobra.Command, args []string) {
				if err := withConfig(configPath, runLogout); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// neoadmin serve
	{
		cmd := &cobra.Command{
			Use:   "serve",
			Short: "Start admin console server",
			Long: strings.TrimSpace(fmt.Sprintf(`
Starts the admin console server, binding to $PORT, or default to %d. Expired
keys are swept from storage every $SWEEP_INTERVAL while it runs.
			`, defaultPort)),
			Run: func(cmd *cobra.Command, args []string) {
				if err := withConfig(configPath, runServe); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	// neoadmin sweep
	{
		cmd := &cobra.Command{
			Use:   "sweep",
			Short: "Evict expired keys from storage",
			Run: func(cmd *cobra.Command, args []string) {
				if err := withConfig(configPath, runSweep); err != nil {
					abortErr(err)
				}
			},
		}
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		abortErr(err)
	}
}

func abort(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func abortErr(err error) {
	abort("error: %v", err)
}

// Loads configuration and a logger, opens storage, and hands them all to f,
// closing storage afterwards.
func withConfig(configPath string,
	f func(ctx context.Context, logger *logrus.Logger, config *Config, store *nastore.ExpiringStore) error,
) error {
	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, logger, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Errorf("Error closing storage: %v", err)
		}
	}()

	return f(ctx, logger, config, nastore.NewExpiringStore(logger, backend))
}

func newLogger(config *Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return nil, xerrors.Errorf("error parsing log level %q: %w", config.LogLevel, err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	return logger, nil
}

func runKeys(ctx context.Context, logger *logrus.Logger, config *Config, store *nastore.ExpiringStore) error {
	live, err := store.GetAllLive(ctx)
	if err != nil {
		return err
	}

	for _, key := range slices.Sorted(maps.Keys(live)) {
		val := string(live[key])
		if key == nasession.TokenKey {
			var token string
			if ok, _ := store.Get(ctx, key, &token); ok {
				val = stringutil.MaskToken(token)
			}
		}

		fmt.Printf("%s\t%s\n", key, val)
	}

	return nil
}

func runLogout(ctx context.Context, logger *logrus.Logger, config *Config, store *nastore.ExpiringStore) error {
	notifications := nanotify.NewQueue(logger)

	session, err := nasession.New(ctx, logger, store, notifications, nanav.NewHistory())
	if err != nil {
		return err
	}

	return session.Logout(ctx)
}

func runServe(ctx context.Context, logger *logrus.Logger, config *Config, store *nastore.ExpiringStore) error {
	var (
		history       = nanav.NewHistory()
		notifications = nanotify.NewQueue(logger)
	)

	session, err := nasession.New(ctx, logger, store, notifications, history)
	if err != nil {
		return err
	}

	client, err := naclient.NewClient(logger, config.APIBaseURL, notifications, session)
	if err != nil {
		return err
	}
	client.Use(naclient.BearerToken(naclient.StoredToken(store)))

	loginProvider, err := newLoginProvider(logger, config, client)
	if err != nil {
		return err
	}

	stats, err := newStatsSource(config, client)
	if err != nil {
		return err
	}

	server := NewServer(logger, &ServerDeps{
		History:       history,
		LoginProvider: loginProvider,
		Notifications: notifications,
		Session:       session,
		Stats:         stats,
		Store:         store,
	}, config.Port)

	errGroup, ctx := errgroup.WithContext(ctx)

	errGroup.Go(server.Start)

	errGroup.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if config.SweepInterval > 0 {
		errGroup.Go(func() error {
			store.SweepLoop(ctx, config.SweepInterval)
			return nil
		})
	}

	if err := errGroup.Wait(); err != nil {
		return xerrors.Errorf("error running server: %w", err)
	}

	return nil
}

func runSweep(ctx context.Context, logger *logrus.Logger, config *Config, store *nastore.ExpiringStore) error {
	numSwept, err := store.SweepExpired(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Swept %d expired key(s)\n", numSwept)
	return nil
}

func newLoginProvider(logger *logrus.Logger, config *Config, client *naclient.Client) (LoginProvider, error) {
	switch config.LoginProvider {
	case LoginProviderAPI:
		return NewAPILoginProvider(client), nil
	case LoginProviderMock:
		return NewMockLoginProvider(logger), nil
	}

	return nil, xerrors.Errorf("unknown login provider %q: %w", config.LoginProvider, ErrInvalidConfig)
}

func newStatsSource(config *Config, client *naclient.Client) (StatsSource, error) {
	switch config.StatsSource {
	case StatsSourceAPI:
		return NewAPIStatsSource(client), nil
	case StatsSourceStatic:
		return &StaticStatsSource{}, nil
	}

	return nil, xerrors.Errorf("unknown stats source %q: %w", config.StatsSource, ErrInvalidConfig)
}
