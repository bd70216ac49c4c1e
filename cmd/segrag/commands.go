package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"segrag/internal/app"
	"segrag/internal/config"
	"segrag/internal/domain"
	"segrag/internal/tui"
)

var (
	boldGreen = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow    = color.New(color.FgYellow).SprintFunc()
	faint     = color.New(color.Faint).SprintFunc()
)

func parseIngestFlags(cfg *config.AppConfig, args []string) []string {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	ctxText := fs.String("context", cfg.Segmenter.Context, "Describes the documents to the segmenter, e.g. \"Chapter 1 of the book 'Rust in Action'\"")
	_ = fs.Parse(args)
	cfg.Segmenter.Context = *ctxText
	return fs.Args()
}

func runIngest(ctx context.Context, a *app.App, args []string) error {
	paths, err := expand(args)
	if err != nil {
		return err
	}
	info, err := a.Service.EnsureCollection(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s collection %s (%d dims, %s)\n", boldCyan("→"), info.Name, info.Dimension, info.Distance)

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", boldCyan("ingesting"), p)
		report, err := a.Service.Ingest(ctx, p, string(data))
		if err != nil {
			fmt.Printf("  %s after %d of %d chunks, %d points stored\n",
				yellow("stopped"), report.ChunksDone, report.Chunks, report.Points)
			return err
		}
		fmt.Printf("  %s %d chunks, %d segments, %d points in %s %s\n",
			boldGreen("done"), report.Chunks, report.Segments, report.Points,
			report.Duration.Round(time.Millisecond), faint("run "+report.RunID))
	}
	return nil
}

// expand resolves globs; arguments without matches are kept as literal paths.
func expand(args []string) ([]string, error) {
	var paths []string
	for _, a := range args {
		matches, err := filepath.Glob(a)
		if err != nil {
			return nil, err
		}
		if matches == nil {
			matches = []string{a}
		}
		paths = append(paths, matches...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no input files")
	}
	return paths, nil
}

func runQuery(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	k := fs.Int("k", 5, "Number of segments to return")
	source := fs.String("source", "", "Only search segments ingested from this file")
	_ = fs.Parse(args)
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("missing question")
	}
	var filter domain.Filter
	if *source != "" {
		filter = domain.Filter{domain.PayloadSource: *source}
	}
	hits, err := a.Service.QueryFiltered(ctx, question, *k, filter)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println(yellow("no results"))
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%s %s %s\n", boldGreen(fmt.Sprintf("#%d", i+1)),
			boldCyan(fmt.Sprintf("%.4f", h.Score)), faint(fmt.Sprintf("id=%d", h.ID)))
		fmt.Println(h.Text())
		fmt.Println()
	}
	return nil
}

func runTUI(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	k := fs.Int("k", 10, "Number of segments to return")
	_ = fs.Parse(args)

	subtitle := "collection " + a.Service.Collection()
	if info, err := a.Service.CollectionInfo(ctx); err == nil {
		subtitle = fmt.Sprintf("collection %s: %d segments, %s", info.Name, info.PointsCount, a.Service.Embedder().Name())
	}
	m := tui.New(a.Service, *k, subtitle)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

func runCollection(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: collection create|delete|info")
	}
	switch args[0] {
	case "create":
		info, err := a.Service.EnsureCollection(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s (%d dims, %s)\n", boldGreen("ready"), info.Name, info.Dimension, info.Distance)
	case "delete":
		if err := a.Service.DeleteCollection(ctx); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", boldGreen("deleted"), a.Service.Collection())
	case "info":
		info, err := a.Service.CollectionInfo(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n  points:    %d\n  dimension: %d\n  distance:  %s\n",
			boldCyan("collection"), info.Name, info.PointsCount, info.Dimension, info.Distance)
	default:
		return fmt.Errorf("unknown collection command %q", args[0])
	}
	return nil
}
