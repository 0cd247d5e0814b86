package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/sensechat/internal/api"
	"github.com/eldtechnologies/sensechat/internal/api/middleware"
	"github.com/eldtechnologies/sensechat/internal/archive"
	"github.com/eldtechnologies/sensechat/internal/config"
	"github.com/eldtechnologies/sensechat/internal/handlers"
	"github.com/eldtechnologies/sensechat/internal/llm"
	"github.com/eldtechnologies/sensechat/internal/realtime"
	"github.com/eldtechnologies/sensechat/internal/retention"
	"github.com/eldtechnologies/sensechat/internal/semantic"
	"github.com/eldtechnologies/sensechat/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if n, err := store.SeedUsers(ctx, db, cfg.UsersConfig); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		logger.Warn().Str("path", cfg.UsersConfig).Msg("users file not found, skipping seed")
	} else {
		logger.Info().Int("users", n).Msg("users seeded")
	}

	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			if !cfg.IsDevelopment() {
				return err
			}
			logger.Warn().Err(err).Msg("redis unavailable, running single-instance without neighbors")
			redisStore = nil
		} else {
			defer redisStore.Close()
			logger.Info().Msg("connected to Redis")
		}
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	providers := buildProviders(cfg, logger)
	reconstructor := llm.NewReconstructor(logger, cfg.LLMTimeout, providers...)
	logger.Info().Strs("providers", reconstructor.Providers()).Str("embedder", embedder.Name()).Msg("reconstruction configured")

	registry := realtime.NewRegistry()
	dispatcher := realtime.NewDispatcher(registry, logger)
	if redisStore != nil {
		dispatcher.UseBus(redisStore, cfg.RelayChannel, cfg.InstanceID)
	}
	wsServer := realtime.NewServer(dispatcher, userValidator(db), originChecker(cfg.CORSOrigins), logger)

	opts := handlers.Options{
		Store:      db,
		Analyzer:   semantic.NewAnalyzer(embedder),
		Renderer:   reconstructor,
		Notifier:   dispatcher,
		Presence:   registry,
		Logger:     logger,
		MessageTTL: cfg.MessageTTL,
		Instance:   cfg.InstanceID,
	}
	deps := api.Deps{
		Logger:      logger,
		Users:       db,
		Realtime:    wsServer,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
	}
	if redisStore != nil {
		opts.Index = redisStore
		deps.Redis = redisStore.Client()
	}
	deps.Handler = handlers.NewHandler(opts)

	purger, err := newPurger(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting SenseChat server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return wsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return purger.Run(gctx) })
	if redisStore != nil {
		relay := realtime.NewRelay(redisStore, dispatcher, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// openStore connects to Postgres when DATABASE_URL is set, running pending
// migrations first, and otherwise falls back to the SQLite file.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, error) {
	if cfg.DatabaseURL == "" {
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
		return s, nil
	}

	logger.Info().Msg("running database migrations...")
	if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	s, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to PostgreSQL")
	return s, nil
}

func newEmbedder(cfg *config.Config) (semantic.Embedder, error) {
	if cfg.EmbeddingBackend != "genai" {
		return semantic.NewHashEmbedder(0), nil
	}
	gemini := cfg.Providers["gemini"]
	e, err := semantic.NewGenAIEmbedder(gemini.APIKey, cfg.EmbeddingModel, gemini.BaseURL)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// newPurger returns the retention purger, archiving to S3 when a bucket is
// configured.
func newPurger(ctx context.Context, cfg *config.Config, db store.DataStore, logger zerolog.Logger) (*retention.Purger, error) {
	if !cfg.ArchiveEnabled() {
		return retention.NewPurger(db, nil, cfg.PurgeInterval, logger), nil
	}
	archiver, err := archive.NewS3Archiver(ctx, archive.Options{
		Bucket:    cfg.ArchiveBucket,
		Prefix:    cfg.ArchivePrefix,
		Region:    cfg.AWSRegion,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.AWSAccessKey,
		SecretKey: cfg.AWSSecretKey,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("bucket", cfg.ArchiveBucket).Msg("archiving expired messages")
	return retention.NewPurger(db, archiver, cfg.PurgeInterval, logger), nil
}

func userValidator(db store.DataStore) realtime.UserValidator {
	return func(ctx context.Context, userID string) bool {
		user, err := db.GetUser(ctx, userID)
		return err == nil && user != nil
	}
}

// originChecker mirrors the CORS allow list for websocket upgrades.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if allowed[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
