// routerctl is the operator CLI for the router: it validates routing
// catalogs, scores prompts through the classifier and inspects persisted
// ledger state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/upb/llm-router/backend/config"
	"github.com/upb/llm-router/backend/internal/observability"
	"github.com/upb/llm-router/backend/models"
	"github.com/upb/llm-router/backend/repositories/sqlite"
	"github.com/upb/llm-router/backend/services/classifier"
	"github.com/upb/llm-router/backend/services/ledger"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routerctl: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routerctl: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cmdErr error
	switch os.Args[1] {
	case "validate":
		cmdErr = runValidate(os.Args[2:], cfg)
	case "score":
		cmdErr = runScore(ctx, os.Args[2:], cfg, logger)
	case "snapshot":
		cmdErr = runSnapshot(ctx, os.Args[2:], cfg, logger)
	default:
		usage()
		os.Exit(2)
	}

	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "routerctl: %v\n", cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: routerctl <command> [flags]

commands:
  validate   check a routing catalog for configuration errors
  score      run a prompt through the classifier
  snapshot   print persisted ledger usage`)
}

func runValidate(args []string, cfg *config.Config) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("catalog", cfg.Catalog.Path, "catalog file to validate")
	fs.Parse(args)

	catalog, err := config.LoadCatalog(*path)
	if err != nil {
		return err
	}

	fmt.Printf("catalog ok: %d clients, %d strategies\n", len(catalog.Clients), len(catalog.Strategies))
	for _, s := range catalog.Strategies {
		auto := "explicit only"
		if s.AutoRoute != nil && s.AutoRoute.Enabled {
			auto = fmt.Sprintf("auto as %q, %d strong, %d weak, threshold %.2f",
				s.AutoRoute.Name(), len(s.AutoRoute.PrioritizedModels),
				len(s.AutoRoute.WeakModels), s.AutoRoute.Threshold)
		}
		fmt.Printf("  strategy %s (%s): %s, %d rate limits\n", s.Name, s.ID, auto, len(s.RateLimits))
	}
	return nil
}

func runScore(ctx context.Context, args []string, cfg *config.Config, logger *zap.Logger) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	weights := fs.String("weights", cfg.Classifier.WeightsPath, "classifier weight artifact")
	threshold := fs.Float64("threshold", 0.3, "tier threshold to compare against")
	fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("score: prompt argument required")
	}
	prompt := fs.Arg(0)

	kernel, err := classifier.LoadKernel(*weights)
	if err != nil {
		return err
	}
	svc, err := classifier.NewService(kernel, classifier.Options{}, logger)
	if err != nil {
		return err
	}

	winRate, err := svc.Score(ctx, prompt)
	if err != nil {
		return err
	}

	tier := "weak"
	if winRate >= *threshold {
		tier = "strong"
	}
	fmt.Printf("win_rate=%.4f threshold=%.2f tier=%s\n", winRate, *threshold, tier)
	return nil
}

func runSnapshot(ctx context.Context, args []string, cfg *config.Config, logger *zap.Logger) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dbPath := fs.String("db", cfg.Storage.Path, "router database path")
	window := fs.String("window", string(models.WindowDay), "window to sum over (minute, hour, day)")
	fs.Parse(args)

	var w models.Window
	if err := w.UnmarshalText([]byte(*window)); err != nil {
		return err
	}

	db, err := sqlite.NewDB(*dbPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := ledger.NewService(sqlite.NewLedgerStore(db), logger)
	if err := svc.LoadState(ctx); err != nil {
		return err
	}

	keys := svc.Keys()
	if len(keys) == 0 {
		fmt.Println("ledger is empty")
		return nil
	}
	for _, key := range keys {
		sum, count := svc.Snapshot(key, w)
		if count == 0 {
			continue
		}
		fmt.Printf("%-60s sum=%.4f events=%d window=%s\n", key, sum, count, w)
	}
	return nil
}
