package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/houfu/lavender-ledger/internal/cli"
	"github.com/houfu/lavender-ledger/internal/core"
	"github.com/houfu/lavender-ledger/internal/export"
	"github.com/houfu/lavender-ledger/internal/ledger"
	"github.com/houfu/lavender-ledger/internal/log"
	"github.com/houfu/lavender-ledger/internal/services"
)

// printError prints to stderr, falling back to stdout.
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir      = flag.String("dir", "", "directory of intake JSON files (required)")
		flagged  = flag.String("flagged-xlsx", "", "write the review queue to this XLSX file after the run")
		noNotify = flag.Bool("no-notify", false, "do not publish the run to AMQP even when AMQP_URL is set")
	)
	flag.Parse()
	if *dir == "" && flag.NArg() == 1 {
		*dir = flag.Arg(0)
	}
	if *dir == "" {
		printError("Error: --dir is required\n")
		flag.Usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	bootstrap := cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), log.ComponentIngest)
	cfg := cli.LoadAndValidateConfig(bootstrap)
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat, log.ComponentIngest)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	var publisher services.RunPublisher
	if !*noNotify {
		if client := cli.InitAMQP(logger, cfg, false); client != nil {
			defer client.Close()
			publisher = client
		}
	}

	engine, err := cli.BuildEngine(ctx, logger, cfg, repo, publisher)
	if err != nil {
		cli.Fatal(logger, "Failed to build engine", err)
	}

	logger.Info("Starting ingestion", "dir", *dir, log.FieldOperation, log.OpIngest)
	run, err := engine.Ingestion.RunDir(ctx, *dir)
	if err != nil {
		cli.Fatal(logger, "Ingestion failed", err)
	}

	fmt.Printf("Run %d %s: %s\n", run.ID, run.Status, run.Summary)
	for _, e := range run.Errors {
		fmt.Printf("  error: %s\n", e)
	}

	if *flagged != "" {
		if err := writeFlagged(ctx, engine.Ledger, *flagged); err != nil {
			cli.Fatal(logger, "Failed to export review queue", err)
		}
		fmt.Printf("Review queue written to %s\n", *flagged)
	}

	if run.Status != core.RunCompleted {
		os.Exit(1)
	}
}

func writeFlagged(ctx context.Context, l *ledger.Ledger, path string) error {
	txs, err := ledger.Collect(l.ListFlagged(ctx), 0)
	if err != nil {
		return err
	}
	data, err := export.FlaggedXLSX(txs)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
