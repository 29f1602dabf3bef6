package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/drf-client/pkg/api"
	"github.com/Sternrassler/drf-client/pkg/cache"
	"github.com/Sternrassler/drf-client/pkg/config"
	"github.com/Sternrassler/drf-client/pkg/logging"
)

// redisPingTimeout bounds the startup check of the shared store.
const redisPingTimeout = 3 * time.Second

// app carries state shared by the subcommands of one invocation.
type app struct {
	// Persistent flags
	cfgFile  string
	baseURL  string
	locale   string
	logLevel string
	output   string

	cfg    *config.Config
	logger zerolog.Logger
	redis  *redis.Client
	client *api.Client
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "drfetch",
		Short: "Read paginated DRF-style REST APIs",
		Long: `drfetch issues locale-aware requests against a Django REST Framework style
API. It can fetch single resources, aggregate every page of a list endpoint,
and serve cached aggregates over HTTP.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.initialize,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./drfetch.yaml)")
	flags.StringVar(&a.baseURL, "base-url", "", "API base URL (overrides api.base_url)")
	flags.StringVarP(&a.locale, "locale", "l", "", "application locale (overrides api.locale)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVarP(&a.output, "output", "o", "json", "output format: json or yaml")

	rootCmd.AddCommand(newGetCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newServeCmd(a))

	return rootCmd
}

// initialize loads configuration and creates the API client.
func (a *app) initialize(cmd *cobra.Command, args []string) error {
	if !validOutput(a.output) {
		return fmt.Errorf("invalid output format: %s", a.output)
	}

	overrides := map[string]any{}
	if a.baseURL != "" {
		overrides["api.base_url"] = a.baseURL
	}
	if a.locale != "" {
		overrides["api.locale"] = a.locale
	}
	if a.logLevel != "" {
		overrides["logging.level"] = a.logLevel
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil && cmd.Flags().Changed("port") {
		overrides["server.port"] = port
	}

	cfg, err := config.LoadWith(a.cfgFile, overrides)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	a.logger = logging.Setup(logCfg).With().Str("component", "drfetch").Logger()

	var store cache.Store
	if cfg.RedisEnabled() {
		store = a.connectRedis(cmd.Context())
	}

	apiCfg := cfg.APIConfig(store)
	a.client, err = api.New(apiCfg)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	a.logger.Debug().
		Str("base_url", cfg.API.BaseURL).
		Str("locale", string(a.client.HTTP().Locale())).
		Bool("shared_store", store != nil).
		Msg("Client initialized")

	return nil
}

// connectRedis returns a store backed by the configured Redis, or nil when
// it cannot be reached. drfetch keeps working with the in-memory cache.
func (a *app) connectRedis(ctx context.Context) cache.Store {
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Cache.RedisAddr,
		Password: a.cfg.Cache.RedisPassword,
		DB:       a.cfg.Cache.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn().Err(err).Str("addr", a.cfg.Cache.RedisAddr).Msg("Redis unavailable, continuing without shared store")
		a.redis.Close()
		a.redis = nil
		return nil
	}

	a.logger.Info().Str("addr", a.cfg.Cache.RedisAddr).Msg("Connected to Redis")
	return cache.NewRedisStore(a.redis)
}

func (a *app) close() error {
	var firstErr error
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			firstErr = err
		}
		a.client = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.redis = nil
	}
	return firstErr
}
