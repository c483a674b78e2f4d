package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/crawlkit/internal/config"
	"github.com/nao1215/crawlkit/internal/database"
	"github.com/nao1215/crawlkit/internal/report"
)

// defaultHistoryLimit is the number of runs listed without --limit.
const defaultHistoryLimit = 20

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List previous crawl runs",
		Long: `History lists the runs recorded in the page store, newest first.

With a run ID it prints the full report of that run, rebuilt from the
stored pages and the final counters.

Examples:
  # List the last 20 runs
  crawlkit history

  # List the last 5 runs as JSON
  crawlkit history --limit 5 --json

  # Show one run as Markdown
  crawlkit history --markdown 3f1e0a52-7c1d-4d1e-9a55-1c2b3d4e5f60`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().Int("limit", defaultHistoryLimit, "Maximum number of runs to list (0 = all)")
	cmd.Flags().String("db-dir", "", "Directory of the page store (default: XDG data directory)")
	cmd.Flags().StringP("config", "c", "", "Configuration file path")
	cmd.Flags().BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db-dir") {
		if cfg.DBDir, err = cmd.Flags().GetString("db-dir"); err != nil {
			return err
		}
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	if cfg.JSONReport, err = cmd.Flags().GetBool("json"); err != nil {
		return err
	}
	if cfg.MarkdownReport, err = cmd.Flags().GetBool("markdown"); err != nil {
		return err
	}
	if cfg.JSONReport && cfg.MarkdownReport {
		return config.ErrConflictingReportFormats
	}

	runID := ""
	if len(args) == 1 {
		runID = args[0]
	}
	return showHistory(cmd, cfg, runID, limit)
}

// showHistory lists runs, or reports one run when runID is set.
func showHistory(cmd *cobra.Command, cfg *config.Config, runID string, limit int) error {
	out := cmd.OutOrStdout()
	w := report.New(out, cfg.JSONReport, cfg.MarkdownReport, getVersion())

	opts := database.DefaultOptions()
	opts.CreateIfNotExists = false
	store, err := database.Open(cfg.ResolvedDBDir(), opts)
	if errors.Is(err, database.ErrNotFound) {
		if runID != "" {
			return fmt.Errorf("run %s: %w", runID, database.ErrNotFound)
		}
		_, err = w.WriteRuns(nil)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if runID != "" {
		return showRun(ctx, store, w, runID)
	}

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	_, err = w.WriteRuns(runs)
	return err
}

// showRun writes the report of one stored run.
func showRun(ctx context.Context, store *database.Store, w report.Writer, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	pages, err := store.ListPages(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	_, err = w.Write(report.NewSummary(run, nil, pages))
	return err
}
