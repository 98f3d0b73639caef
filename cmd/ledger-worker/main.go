package main

import (
	"context"
	"os"
	"time"

	"github.com/houfu/lavender-ledger/internal/cli"
	"github.com/houfu/lavender-ledger/internal/log"
	"github.com/houfu/lavender-ledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), log.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentWorker)

	logger.Info("Starting ledger-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	amqpClient := cli.InitAMQP(logger, cfg, true)
	defer amqpClient.Close()

	engine, err := cli.BuildEngine(context.Background(), logger, cfg, repo, nil)
	if err != nil {
		cli.Fatal(logger, "Failed to build engine", err)
	}

	w := worker.NewReviewWorker(engine.Learning, engine, cfg.VocabRefreshInterval, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)
	if err := w.Run(ctx, amqpClient); err != nil {
		cli.Fatal(logger, "Worker stopped", err)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
