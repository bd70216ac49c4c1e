package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"segrag/internal/app"
	"segrag/internal/config"
	"segrag/internal/logging"
)

const usage = `Usage: segrag [--config=config.yaml] <command> [args]

Commands:
  ingest [-context=TEXT] file1.txt [file2.txt ...]   segment, embed and store documents
  query [-k=5] [-source=FILE] "question"            search stored segments
  tui [-k=10]                                       interactive search
  collection create|delete|info                     manage the configured collection
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/segrag/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		fatal("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd, rest := args[0], args[1:]
	if cmd == "ingest" {
		// The context flag feeds the segmenter prompt, so it is parsed
		// before the pipeline is built.
		rest = parseIngestFlags(cfg, rest)
	}

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		fatal("failed to build pipeline: %v", err)
	}
	defer a.Close()

	switch cmd {
	case "ingest":
		err = runIngest(ctx, a, rest)
	case "query":
		err = runQuery(ctx, a, rest)
	case "tui":
		err = runTUI(ctx, a, rest)
	case "collection":
		err = runCollection(ctx, a, rest)
	default:
		flag.Usage()
		a.Close()
		os.Exit(2)
	}
	if err != nil {
		a.Close()
		fatal("%s failed: %v", cmd, err)
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

func fatal(format string, args ...any) {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: ")
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
