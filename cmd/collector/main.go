package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"tradebalance/internal/app"
	"tradebalance/internal/config"
	"tradebalance/internal/logging"
	"tradebalance/internal/pipeline"
	"tradebalance/internal/providers/eurostat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(pipeline.ExitUsage)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(run(os.Args[2:]))
	default:
		usage()
		os.Exit(pipeline.ExitUsage)
	}
}

func run(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML configuration (empty = defaults)")
	force := fs.Bool("force", false, "discard cached artifacts and download everything")
	skipPartners := fs.Bool("skip-partners", false, "only refresh the goods and services aggregates")
	verbose := fs.Bool("verbose", false, "debug logging")
	fs.Parse(args)
	if fs.NArg() > 0 {
		usage()
		return pipeline.ExitUsage
	}

	cfg, log, err := app.Setup(*configPath, *verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collector setup failed:", err)
		return pipeline.ExitTotalFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := runCollector(ctx, cfg, log, pipeline.Options{Force: *force, SkipPartners: *skipPartners})
	if err != nil {
		log.WithError(err).Error("collector run failed")
		fmt.Fprintln(os.Stderr, "collector run failed:", err)
		return pipeline.ExitTotalFailure
	}

	success, reused, failed, skipped := summary.Totals()
	fmt.Printf("collector run complete (run=%s stages=%d success=%d reused=%d failed=%d)\n",
		summary.RunID, len(summary.Stages), success, reused, failed,
	)
	if skipped > 0 {
		fmt.Printf("collector run skipped=%d\n", skipped)
	}
	for _, stage := range summary.Stages {
		fmt.Println(" ", stage.String())
		for _, warning := range stage.Warnings {
			fmt.Println("    warning:", warning)
		}
	}
	return summary.ExitCode()
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: collector run [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -config         YAML configuration file (default: built-in defaults)")
	fmt.Fprintln(os.Stderr, "  -force          discard cached artifacts before running")
	fmt.Fprintln(os.Stderr, "  -skip-partners  only refresh the aggregates")
	fmt.Fprintln(os.Stderr, "  -verbose        debug logging")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "exit status: 0 ok, 3 partial, 1 failed, 2 usage")
}

func runCollector(ctx context.Context, cfg *config.Config, log *logging.Log, opts pipeline.Options) (pipeline.Summary, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}

	store, err := app.OpenCache(ctx, cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}

	tr, err := app.Vocabulary(cfg)
	if err != nil {
		return pipeline.Summary{}, err
	}

	log.WithFields(logging.Fields{
		"backend":    cfg.Cache.Backend,
		"data_dir":   cfg.DataDir,
		"start_year": cfg.StartYear,
		"vocab":      tr.Version(),
		"force":      opts.Force,
	}).Info("starting collector")

	summary, err := pipeline.New(provider, store, tr, cfg, log).Run(ctx, opts)
	if err != nil {
		return summary, err
	}
	if misses := tr.Misses(); len(misses) > 0 {
		fields := logging.Fields{}
		for vocabularyID, count := range misses {
			fields[vocabularyID] = count
		}
		log.WithFields(fields).Warn("unmapped codes dropped")
	}
	return summary, nil
}

func buildProvider(cfg *config.Config) (*eurostat.Provider, error) {
	providerCfg, err := eurostat.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Eurostat.BaseURL) != "" {
		providerCfg.BaseURL = cfg.Eurostat.BaseURL
	}
	if strings.TrimSpace(cfg.Eurostat.UserAgent) != "" {
		providerCfg.UserAgent = cfg.Eurostat.UserAgent
	}
	if cfg.Eurostat.MaxRetries > 0 {
		providerCfg.MaxRetries = cfg.Eurostat.MaxRetries
	}
	return eurostat.NewWithConfig(providerCfg)
}
