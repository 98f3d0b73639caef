package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/houfu/lavender-ledger/internal/cli"
	apphttp "github.com/houfu/lavender-ledger/internal/http"
	"github.com/houfu/lavender-ledger/internal/log"
)

func main() {
	cli.LoadEnvFile()
	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), log.ComponentHTTP)
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentApp)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// With a broker, review decisions go through the worker.
	amqpClient := cli.InitAMQP(logger, cfg, false)
	var decisions apphttp.DecisionPublisher
	if amqpClient != nil {
		defer amqpClient.Close()
		decisions = amqpClient
	}

	engine, err := cli.BuildEngine(context.Background(), logger, cfg, repo, nil)
	if err != nil {
		cli.Fatal(logger, "Failed to build engine", err)
	}

	srv := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		Repo:           repo,
		Ledger:         engine.Ledger,
		Learning:       engine.Learning,
		Decisions:      decisions,
		Policy:         cfg.Policy(),
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting ledger server", "port", cfg.Port, "review_queue", decisions != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
