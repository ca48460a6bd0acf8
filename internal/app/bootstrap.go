package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"vidtube-users/internal/account"
	"vidtube-users/internal/auth"
	"vidtube-users/internal/config"
	"vidtube-users/internal/db"
	"vidtube-users/internal/httpx"
	"vidtube-users/internal/maintenance"
	"vidtube-users/internal/media"
	"vidtube-users/internal/observability"
	"vidtube-users/internal/profile"
	"vidtube-users/internal/session"
)

const (
	serviceName = "vidtube-users"
	apiPrefix   = "/api/v1/users"
)

type Options struct {
	LoadDotEnv bool
	// Release is reported to Sentry.
	Release string
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Close   func() error
}

// Dependencies lets tests inject the store and asset store. Nil fields are
// built from configuration.
type Dependencies struct {
	Store  account.Store
	Assets media.AssetStore
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return BuildWith(context.Background(), cfg, options, Dependencies{})
}

func BuildWith(ctx context.Context, cfg *config.Config, options Options, deps Dependencies) (*Runtime, error) {
	var err error
	logger := observability.NewLogger(serviceName)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env, options.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	store := deps.Store
	if store == nil {
		store, err = openStore(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	assets := deps.Assets
	if assets == nil {
		assets, err = openAssetStore(ctx, cfg.Media)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init asset store: %w", err)
		}
	}

	stager, err := media.NewStager(cfg.Media.TempDir, cfg.Limits.UploadBytes, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()
	tokens := auth.NewTokenService(cfg.Tokens)
	hasher := auth.NewPasswordHasher(cfg.Password.BcryptCost)
	authn := auth.NewAuthenticator(tokens, store)
	cookies := auth.NewCookieWriter(cfg.Cookies, cfg.Tokens)

	coordinator := media.NewCoordinator(uploadDeadline{AssetStore: assets, timeout: cfg.Media.UploadTimeout}, store, logger, metrics)
	sessionService := session.NewService(store, hasher, tokens, coordinator, logger, metrics)
	sessionHandler := session.NewHandler(sessionService, coordinator, stager, cookies, cfg.Limits.BodyBytes)
	profileHandler := profile.NewHandler(profile.NewService(store))
	cleanupHandler := maintenance.NewCleanupHandler(stager, logger, cfg.CronSecret, cfg.Media.StagingRetention)

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+apiPrefix+"/register", sessionHandler.Register)
	mux.HandleFunc("POST "+apiPrefix+"/login", sessionHandler.Login)
	mux.HandleFunc("POST "+apiPrefix+"/refresh-token", sessionHandler.RefreshToken)
	mux.Handle("POST "+apiPrefix+"/logout", authn.Require(http.HandlerFunc(sessionHandler.Logout)))
	mux.Handle("POST "+apiPrefix+"/change-password", authn.Require(http.HandlerFunc(sessionHandler.ChangePassword)))
	mux.Handle("GET "+apiPrefix+"/current-user", authn.Require(http.HandlerFunc(sessionHandler.CurrentUser)))
	mux.Handle("PATCH "+apiPrefix+"/update-account", authn.Require(http.HandlerFunc(sessionHandler.UpdateAccount)))
	mux.Handle("PATCH "+apiPrefix+"/avatar", authn.Require(http.HandlerFunc(sessionHandler.UpdateAvatar)))
	mux.Handle("PATCH "+apiPrefix+"/cover-image", authn.Require(http.HandlerFunc(sessionHandler.UpdateCoverImage)))
	mux.Handle("GET "+apiPrefix+"/c/{username}", authn.Optional(http.HandlerFunc(profileHandler.ChannelProfile)))
	mux.Handle("POST "+apiPrefix+"/c/{username}/subscription", authn.Require(http.HandlerFunc(profileHandler.Subscribe)))
	mux.Handle("DELETE "+apiPrefix+"/c/{username}/subscription", authn.Require(http.HandlerFunc(profileHandler.Unsubscribe)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(store))
	mux.Handle("GET /metrics", metrics.Handler())

	handler := observability.RecoverMiddleware(logger,
		observability.CORSMiddleware(cfg.CORSOrigin,
			observability.RequestLoggingMiddleware(logger, metrics, mux)))

	logger.Info("runtime_built", map[string]any{
		"store_driver": cfg.StoreDriver,
		"asset_store":  cfg.Media.AssetStore,
		"env":          cfg.Env,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return store.Close()
		},
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (account.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		database, err := db.OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if err := db.RunMigrations(ctx, database); err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return account.NewPostgresStore(database), nil
	case config.StoreDriverMongo:
		store, err := account.NewMongoStore(ctx, cfg.Mongo.URL, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("open mongo store: %w", err)
		}
		return store, nil
	case config.StoreDriverMemory:
		logger.Warn("memory_store_in_use", map[string]any{"env": cfg.Env})
		return account.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func openAssetStore(ctx context.Context, cfg config.MediaConfig) (media.AssetStore, error) {
	switch cfg.AssetStore {
	case config.AssetStoreCloudinary:
		return media.NewCloudinary(cfg.CloudinaryURL, cfg.UploadTimeout)
	case config.AssetStoreS3:
		return media.NewS3(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown asset store %q", cfg.AssetStore)
	}
}

// uploadDeadline bounds every remote asset call.
type uploadDeadline struct {
	media.AssetStore
	timeout time.Duration
}

func (u uploadDeadline) Upload(ctx context.Context, localPath string) (media.Asset, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()
	return u.AssetStore.Upload(ctx, localPath)
}

func (u uploadDeadline) Delete(ctx context.Context, asset media.Asset) error {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()
	return u.AssetStore.Delete(ctx, asset)
}

func (u uploadDeadline) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.timeout)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(store pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := store.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		httpx.WriteJSON(w, status, body)
	}
}
