package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"repocrawl/internal/config"
	"repocrawl/internal/crawler"
	"repocrawl/internal/export"
	"repocrawl/internal/platform/github"
	"repocrawl/internal/status"
	"repocrawl/internal/store"

	"github.com/spf13/cobra"
)

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}
	log := newLogger(cfg)
	ctx := cmd.Context()

	want := cfg.Crawl.Target
	if cmd.Flags().Changed("target") {
		want = target
	}
	addr := cfg.MetricsAddr
	if cmd.Flags().Changed("metrics-addr") {
		addr = metricsAddr
	}

	pool, err := openDB(ctx, cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	client := github.NewClient(githubConfig(cfg), log.With("component", "github"))
	svc := crawler.NewService(client, store.NewRepositoryPG(pool), crawler.NewPostgresRepo(pool), crawlerConfig(cfg), log)

	if addr != "" {
		srvCtx, stopServer := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := status.Serve(srvCtx, addr, status.NewHandler(svc, pool, log), log); err != nil {
				log.Error("status server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			stopServer()
			<-done
		}()
	}

	log.Info("starting crawl",
		slog.Int("target", want),
		slog.Int("batch_size", cfg.Crawl.BatchSize),
		slog.Int("page_size", cfg.GitHub.PageSize),
		slog.Int("max_stars", cfg.Crawl.MaxStars),
	)

	res, err := svc.Run(ctx, want)
	if res != nil {
		printResult(cmd, res)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("crawl interrupted: %w", err)
		}
		return err
	}
	return nil
}

func showCount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := openDB(ctx, cfg.Database.DSN, newLogger(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := store.NewRepositoryPG(pool).CountRepositories(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}

func exportRepositories(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	ctx := cmd.Context()

	path := cfg.OutputPath
	if outPath != "" {
		path = outPath
	}

	pool, err := openDB(ctx, cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	n, err := export.WriteCSV(ctx, f, store.NewRepositoryPG(pool))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("export to %s: %w", path, err)
	}

	log.Info("export complete", slog.String("path", path), slog.Int("rows", n))
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d repositories to %s\n", n, path)
	return nil
}

func showPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ranges, err := crawler.PlanRanges(crawlerConfig(cfg).Plan)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range ranges {
		fmt.Fprintln(out, r.Query())
	}
	fmt.Fprintf(out, "%d ranges\n", len(ranges))
	return nil
}

func showLastRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	pool, err := openDB(ctx, cfg.Database.DSN, newLogger(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	run, err := crawler.NewPostgresRepo(pool).LatestRun(ctx)
	if errors.Is(err, crawler.ErrRunNotFound) {
		fmt.Fprintln(cmd.OutOrStdout(), "No crawl runs recorded")
		return nil
	}
	if err != nil {
		return err
	}
	printRun(cmd, run)
	return nil
}

func githubConfig(cfg *config.Config) github.Config {
	return github.Config{
		Token:             cfg.GitHub.Token,
		APIURL:            cfg.GitHub.APIURL,
		UserAgent:         cfg.GitHub.UserAgent,
		PageSize:          cfg.GitHub.PageSize,
		MaxRetries:        cfg.GitHub.MaxRetries,
		RateLimitBuffer:   cfg.GitHub.RateLimitBuffer,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Timeout:           cfg.GitHub.Timeout,
	}
}

func crawlerConfig(cfg *config.Config) crawler.Config {
	return crawler.Config{
		Plan: crawler.PlanConfig{
			Bands:    crawler.DefaultBands,
			MaxStars: cfg.Crawl.MaxStars,
		},
		BatchSize:       cfg.Crawl.BatchSize,
		CountCheckEvery: cfg.Crawl.CountCheckEvery,
	}
}

func printResult(cmd *cobra.Command, res *crawler.Result) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", res.RunID)
	fmt.Fprintf(w, "Outcome:\t%s\n", res.Outcome)
	fmt.Fprintf(w, "Stored:\t%d / %d\n", res.FinalCount, res.Target)
	fmt.Fprintf(w, "Fetched:\t%d\n", res.Fetched)
	fmt.Fprintf(w, "Upserted:\t%d\n", res.Upserted)
	fmt.Fprintf(w, "Ranges:\t%d / %d\n", res.SlicesVisited, res.SlicesTotal)
	_ = w.Flush()
}

func printRun(cmd *cobra.Command, run crawler.Run) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	fmt.Fprintf(w, "Started:\t%s\n", run.StartedAt.UTC().Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Finished:\t%s\n", run.FinishedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Stored:\t%d / %d\n", run.FinalCount, run.Target)
	fmt.Fprintf(w, "Fetched:\t%d\n", run.ReposFetched)
	fmt.Fprintf(w, "Upserted:\t%d\n", run.ReposUpserted)
	fmt.Fprintf(w, "Ranges:\t%d / %d\n", run.SlicesVisited, run.SlicesPlanned)
	if run.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	_ = w.Flush()
}
