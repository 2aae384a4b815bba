package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/supabase-community/supabase-go"

	"tryon/internal/adapter/repo"
	"tryon/internal/domain"
	"tryon/internal/http/handlers"
	httpapi "tryon/internal/http/httpapi"
	"tryon/internal/identity"
	"tryon/internal/imagegen"
	"tryon/internal/infra"
	"tryon/internal/infra/credentials"
	"tryon/internal/metrics"
	"tryon/internal/persistence"
	"tryon/internal/providers/fashn"
	"tryon/internal/storage"
	"tryon/internal/tryon"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)
	ctx := context.Background()

	var (
		dbpool *pgxpool.Pool
		sb     *supabase.Client
	)
	if cfg.MetadataBackend == infra.MetadataBackendPostgres {
		dbpool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()
	}
	if cfg.StorageBackend == infra.StorageBackendSupabase {
		sb, err = supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create supabase client")
		}
	}

	// Metadata repository
	var generations domain.GenerationRepository
	fashnOpts := fashn.Options{
		APIKey:         cfg.FashnAPIKey,
		BaseURL:        cfg.FashnBaseURL,
		Model:          cfg.FashnModel,
		RequestTimeout: cfg.FashnRequestTimeout,
		Logger:         &logger,
	}
	if dbpool != nil {
		sqlRunner := infra.NewSQLRunner(dbpool, logger)
		generations = repo.NewGenerationRepository(sqlRunner)
		if fashnOpts.APIKey == "" {
			fashnOpts.KeySource = credentials.NewStore(sqlRunner).FashnAPIKey
		}
	} else {
		generations, err = repo.NewGenerationRepositorySupabase(repo.SupabaseRepoOptions{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init generation repository")
		}
	}

	// Object storage
	var store storage.Store
	switch cfg.StorageBackend {
	case infra.StorageBackendSupabase:
		store, err = storage.NewSupabaseStore(sb.Storage, storage.SupabaseOptions{Logger: &logger})
	default:
		store, err = storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init storage")
	}

	recorder := metrics.NewPrometheusRecorder()
	buckets := domain.Buckets{Model: cfg.BucketModel, Garment: cfg.BucketGarment, Result: cfg.BucketResult}

	client, err := fashn.NewClient(fashnOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init fashn client")
	}
	engine, err := imagegen.NewEngine(client, imagegen.Options{
		PollInterval:     cfg.PollInterval,
		TransientBackoff: cfg.PollBackoff,
		MaxBackoff:       cfg.PollMaxBackoff,
		Timeout:          cfg.GenerationTimeout,
		Logger:           &logger,
		Metrics:          recorder,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init generation engine")
	}
	ident := identity.ContextProvider{}
	coordinator, err := persistence.NewCoordinator(store, generations, ident, client, persistence.Options{
		Buckets: buckets,
		Logger:  &logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init persistence")
	}
	svc, err := tryon.NewService(tryon.Options{
		Generator: engine,
		Persister: coordinator,
		Identity:  ident,
		Store:     store,
		Repo:      generations,
		Buckets:   buckets,
		Logger:    &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init service")
	}

	app := handlers.NewApp(svc, &logger, recorder.Handler(), cfg.MaxUploadBytes)
	router := httpapi.NewRouter(cfg, app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("storage", cfg.StorageBackend).
			Str("metadata", cfg.MetadataBackend).
			Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
