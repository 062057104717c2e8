package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	// Global flags
	verbose bool

	// Run command flags
	target      int
	metricsAddr string

	// Export command flags
	outPath string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "crawler",
	Short:        "Harvest GitHub repositories into Postgres by star range",
	Version:      version,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Crawl until the store holds the target number of repositories",
	Long: `Search GitHub one star range at a time and upsert every repository
found into Postgres. The crawl stops as soon as the stored unique count
reaches the target, or when every star range has been visited.

Runs are idempotent: repositories already stored are refreshed, not
duplicated, so an interrupted crawl can simply be started again.

Examples:
  # Crawl to the configured REPOS_TARGET
  crawler run

  # Crawl to a smaller target and expose /status and /metrics
  crawler run --target 5000 --metrics-addr :9100`,
	RunE: runCrawl,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of stored repositories",
	RunE:  showCount,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every stored repository to a CSV file",
	RunE:  exportRepositories,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the star ranges a crawl would visit",
	RunE:  showPlan,
}

var lastRunCmd = &cobra.Command{
	Use:   "last-run",
	Short: "Show the most recent crawl run",
	RunE:  showLastRun,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	runCmd.Flags().IntVar(&target, "target", 0, "unique repositories to store (defaults to REPOS_TARGET)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /status and /metrics on this address (defaults to METRICS_ADDR)")

	exportCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (defaults to OUTPUT_PATH)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(lastRunCmd)
}
