package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/outreachkit/email-discovery/internal/adjudicate"
	"github.com/outreachkit/email-discovery/internal/app"
	"github.com/outreachkit/email-discovery/internal/candidates"
	"github.com/outreachkit/email-discovery/internal/checkpoint"
	"github.com/outreachkit/email-discovery/internal/config"
	"github.com/outreachkit/email-discovery/internal/contacts"
	"github.com/outreachkit/email-discovery/internal/domains"
	"github.com/outreachkit/email-discovery/internal/pipeline"
	"github.com/outreachkit/email-discovery/internal/verify"
	"github.com/outreachkit/email-discovery/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "version", "--version":
		fmt.Println(version.Current)
		return
	case "local":
		os.Exit(run(ctx, os.Args[2:], true))
	case "store":
		os.Exit(run(ctx, os.Args[2:], false))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, local bool) int {
	name := "store"
	if local {
		name = "local"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		inputPath  string
		outputPath string
	)
	if local {
		fs.StringVar(&inputPath, "input", "", "Input CSV of contacts (id,first_name,last_name,organization,...)")
		fs.StringVar(&outputPath, "output", "", "Output CSV of discovery results")
	}
	configPath := fs.String("config", envStr("EMAILFINDER_CONFIG", ""), "YAML config file path (env: EMAILFINDER_CONFIG)")
	dryRun := fs.Bool("dry-run", false, "Run the full pipeline without writing any emails")
	limit := fs.Int("limit", 0, "Process at most this many contacts, 0 = all")
	budget := fs.Int("budget", -1, "Override the verification credit budget from config")
	minConfidence := fs.Int("min-confidence", 0, "Minimum confidence for final acceptance (0 = config default)")
	verifyWorkers := fs.Int("verify-workers", 0, "Max in-flight verification calls (0 = config default)")
	adjudicateWorkers := fs.Int("adjudicate-workers", 0, "Max in-flight adjudication calls (0 = config default)")
	workers := fs.Int("workers", 0, "Contact-processing worker slots (0 = config default)")
	resume := fs.Bool("resume", false, "Resume from the checkpoint file, skipping terminal contacts")
	checkpointPath := fs.String("checkpoint", "", "Checkpoint file path (overrides config)")
	noAdjudicator := fs.Bool("no-adjudicator", false, "Disable LLM adjudication; accept on verification signals only")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if local && (inputPath == "" || outputPath == "") {
		_, _ = fmt.Fprintln(os.Stderr, "local requires --input and --output")
		return 2
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	if *budget >= 0 {
		cfg.Budget = *budget
	}
	if *minConfidence > 0 {
		cfg.Pipeline.MinConfidence = *minConfidence
	}
	if *verifyWorkers > 0 {
		cfg.Provider.MaxInFlight = *verifyWorkers
	}
	if *adjudicateWorkers > 0 {
		cfg.Adjudicator.Workers = *adjudicateWorkers
	}
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if *checkpointPath != "" {
		cfg.Checkpoint = *checkpointPath
	}

	ckptStore := checkpoint.NewStore(cfg.Checkpoint)
	snap := checkpoint.Empty("")
	if *resume {
		snap, err = ckptStore.Load()
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "checkpoint error: %s\n", err)
			return 2
		}
		logger.Printf("resuming run %s: %d resolved, %d unresolved, %d credits already consumed",
			snap.RunID, len(snap.Resolved), len(snap.Unresolved), snap.CreditsConsumed)
	}

	runBudget := cfg.Budget - snap.CreditsConsumed
	if runBudget < 0 {
		runBudget = 0
	}
	ledger := verify.NewLedger(runBudget)

	providerKey := strings.TrimSpace(os.Getenv("VERIFIER_API_KEY"))
	if providerKey == "" {
		_, _ = fmt.Fprintln(os.Stderr, "VERIFIER_API_KEY is required")
		return 2
	}
	providerBase := envStr("VERIFIER_BASE_URL", cfg.Provider.BaseURL)
	providerClient, err := verify.NewClient(providerBase, providerKey)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "provider config error: %s\n", err)
		return 2
	}

	gateway := verify.NewGateway(providerClient, ledger, verify.Options{
		MaxInFlight:    cfg.Provider.MaxInFlight,
		RateLimitRPS:   cfg.Provider.RateLimitRPS,
		Cooldown:       cfg.Provider.Cooldown.Std(),
		MaxAttempts:    cfg.Provider.MaxAttempts,
		RequestTimeout: cfg.Provider.RequestTimeout.Std(),
		Logger:         logger,
	})

	var adjudicator adjudicate.Adjudicator
	if !*noAdjudicator {
		gem, err := adjudicate.New(ctx, adjudicate.Config{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   envStr("GEMINI_MODEL", cfg.Adjudicator.Model),
			BaseURL: os.Getenv("GEMINI_BASE_URL"),
		})
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "adjudicator config error: %s\n", err)
			return 2
		}
		adjudicator = adjudicate.NewBounded(gem, cfg.Adjudicator.Workers)
	}

	deps := app.Deps{
		Logger:      logger,
		Resolver:    domains.NewResolver(),
		Verifier:    gateway,
		Ledger:      ledger,
		Credits:     providerClient,
		Adjudicator: adjudicator,
		Checkpoints: ckptStore,
		Resume:      snap,
		Options: pipeline.Options{
			Workers:           cfg.Pipeline.Workers,
			Limit:             *limit,
			MinConfidence:     cfg.Pipeline.MinConfidence,
			FastPathThreshold: cfg.Pipeline.FastPathThreshold,
			DryRun:            *dryRun,
			ProgressEvery:     cfg.Pipeline.ProgressEvery,
			FlushInterval:     cfg.Pipeline.FlushInterval.Std(),
			Candidates:        candidateOptions(cfg),
		},
	}

	if local {
		if err := app.RunLocal(ctx, inputPath, outputPath, deps); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "local run failed: %s\n", err)
			return 1
		}
		return 0
	}

	storeClient, err := contacts.NewClient(
		envStr("CONTACTS_BASE_URL", ""),
		os.Getenv("CONTACTS_TOKEN"),
	)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "datastore config error: %s\n", err)
		return 2
	}
	if err := app.RunStore(ctx, storeClient, deps); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "store run failed: %s\n", err)
		return 1
	}
	return 0
}

func candidateOptions(cfg config.Config) candidates.Options {
	return candidates.Options{
		CatchAllDomains: cfg.Candidates.CatchAllSet(),
		CatchAllCap:     cfg.Candidates.CatchAllCap,
	}
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `emailfinder: discover and verify contact emails under a fixed credit budget

Usage:
  emailfinder <command> [flags]

Commands:
  local     Run against a local contacts CSV; writes a results CSV, no datastore
  store     Run against the contact datastore (paginated missing-email queue)
  version   Print the release version

Examples:
  emailfinder local --input contacts.csv --output results.csv --dry-run
  emailfinder store --limit 200 --resume

Environment:
  VERIFIER_API_KEY    verification provider API key (required)
  VERIFIER_BASE_URL   provider base URL override
  GEMINI_API_KEY      Gemini API key (required unless --no-adjudicator)
  GEMINI_MODEL        Gemini model name
  GEMINI_BASE_URL     optional base URL override (proxies/testing)
  CONTACTS_BASE_URL   contact datastore base URL (store mode)
  CONTACTS_TOKEN      contact datastore bearer token (store mode)
  EMAILFINDER_CONFIG  YAML config file path

`)
}

func envStr(varName, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return fallback
}

