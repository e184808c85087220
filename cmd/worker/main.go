package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"server/internal/adapter/repo"
	"server/internal/bus"
	"server/internal/generation"
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
		logger.Fatal().Err(err).Msg("worker: db connection failed")
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
		logger.Fatal().Err(err).Msg("worker: failed to configure provider client")
	}

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}
	logger.Info().Str("path", fileStore.BasePath()).Msg("worker: result media store ready")

	eventBus := bus.NewPostgresBus(pool, logger)

	orchestrator := saga.NewOrchestrator(instances, eventBus, logger)
	orchestrator.Register(eventBus)

	submitter := generation.NewSubmitter(tasks, provider, eventBus, cfg.CallbackBaseURL, logger)
	submitter.Register(eventBus)

	recorder := generation.NewRecorder(tasks, conversations, assets, fileStore, &http.Client{Timeout: 60 * time.Second}, logger)
	recorder.Register(eventBus)

	sweeper := generation.NewSweeper(tasks, provider, eventBus, cfg.SweepGrace, logger)
	schedule := cron.New()
	if _, err := schedule.AddFunc(fmt.Sprintf("@every %s", cfg.SweepEvery), func() {
		if err := sweeper.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("worker: refresh sweep failed")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to schedule refresh sweep")
	}
	schedule.Start()
	defer schedule.Stop()

	logger.Info().Msg("worker: started")
	if err := eventBus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
