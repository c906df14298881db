package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"tradebalance/internal/app"
	"tradebalance/internal/publish"
	"tradebalance/internal/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		build(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func build(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML configuration (empty = defaults)")
	outDir := fs.String("out", "", "output directory (default: publisher.out_dir)")
	dbPath := fs.String("db", "", "sqlite database path (default: publisher.db_path)")
	parquetPath := fs.String("parquet", "", "write the combined series as parquet to this path")
	countries := fs.String("country", "", "comma-separated country codes to publish (empty = all)")
	verbose := fs.Bool("verbose", false, "debug logging")
	fs.Parse(args)

	cfg, log, err := app.Setup(*configPath, *verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "publisher setup failed:", err)
		os.Exit(1)
	}
	if *outDir == "" {
		*outDir = cfg.Publisher.OutDir
	}
	if *dbPath == "" {
		*dbPath = cfg.Publisher.DBPath
	}
	if *parquetPath == "" {
		*parquetPath = cfg.Publisher.Parquet
	}

	ctx := context.Background()
	artifacts, err := app.OpenCache(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open cache:", err)
		os.Exit(1)
	}
	tr, err := app.Vocabulary(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load vocabulary:", err)
		os.Exit(1)
	}

	st, err := sqlite.New(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to open database:", err)
		os.Exit(1)
	}
	defer st.Close()

	report, err := publish.Build(ctx, artifacts, st, tr, log, publish.Options{
		OutDir:             *outDir,
		Parquet:            *parquetPath,
		ParquetCompression: cfg.Publisher.ParquetCompression,
		Countries:          parseList(*countries),
		TopN:               cfg.Publisher.TopN,
		Months:             cfg.Publisher.Months,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "publisher build failed:", err)
		st.Close()
		os.Exit(1)
	}

	if report.ServicesLag != "" {
		fmt.Println("note:", report.ServicesLag)
	}
	if len(report.MissingServices) > 0 {
		fmt.Printf("note: no services data for %s\n", strings.Join(report.MissingServices, ","))
	}
	fmt.Printf("publisher build complete (out=%s countries=%d rows=%d partner_rows=%d cutoff=%s)\n",
		*outDir, report.Countries, report.Rows, report.PartnerRows, report.Cutoff,
	)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: publisher build [options]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "options:")
	fmt.Fprintln(os.Stderr, "  -config   YAML configuration file (default: built-in defaults)")
	fmt.Fprintln(os.Stderr, "  -out      output directory (default: site/data)")
	fmt.Fprintln(os.Stderr, "  -db       sqlite database path (default: tradebalance.db)")
	fmt.Fprintln(os.Stderr, "  -parquet  parquet export path (default: none)")
	fmt.Fprintln(os.Stderr, "  -country  comma-separated country codes (default: all)")
	fmt.Fprintln(os.Stderr, "  -verbose  debug logging")
}

func parseList(value string) []string {
	raw := strings.Split(value, ",")
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		items = append(items, strings.ToUpper(trimmed))
	}
	return items
}
