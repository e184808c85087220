package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/bus"
	"server/internal/generation"
	httpapi "server/internal/http"
	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/providers/pixverse"
	"server/internal/saga"
	"server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	tasks := repo.NewTaskRepository(pool)
	instances := repo.NewSagaInstanceRepository(pool)
	conversations := repo.NewConversationRepository(pool)
	assets := repo.NewAssetRepository(pool)

	provider, err := pixverse.NewClient(pixverse.Options{
		APIKey:  cfg.PixverseAPIKey,
		BaseURL: cfg.PixverseBaseURL,
		Model:   cfg.PixverseModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure provider client")
	}

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}
	logger.Info().Str("path", fileStore.BasePath()).Msg("result media store ready")

	eventBus := bus.NewPostgresBus(pool, logger)

	orchestrator := saga.NewOrchestrator(instances, eventBus, logger)
	orchestrator.Register(eventBus)

	submitter := generation.NewSubmitter(tasks, provider, eventBus, cfg.CallbackBaseURL, logger)
	submitter.Register(eventBus)

	recorder := generation.NewRecorder(tasks, conversations, assets, fileStore, &http.Client{Timeout: 60 * time.Second}, logger)
	recorder.Register(eventBus)

	go func() {
		if err := eventBus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("bus delivery loop stopped")
		}
	}()

	service := generation.NewService(tasks, provider, eventBus, logger)
	app := handlers.NewApp(service, tasks, eventBus, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
