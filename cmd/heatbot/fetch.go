package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"heatbot/internal/caseid"
	"heatbot/internal/config"
	"heatbot/internal/report"
)

var (
	fetchFormat string
	fetchOut    string
)

var errFetchFailed = errors.New("case fetch failed")

var fetchCmd = &cobra.Command{
	Use:   "fetch <case-id>",
	Short: "Look up one case and print the result",
	Long: `Runs the same lookup the bot runs for a chat message and prints the outcome.
With --format document the HTML report is written to --out (or its default name).`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchFormat, "format", "f", "", "text or document (defaults to bot.format)")
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "where to write the document report")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := caseid.Parse(args[0])
	if err != nil {
		return err
	}
	if fetchFormat != "" {
		cfg.Bot.Format = fetchFormat
	}
	if err := cfg.Validate(false); err != nil {
		return err
	}
	if _, err := report.ParseFormat(cfg.Bot.Format); err != nil {
		return &config.ConfigurationError{Err: err}
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.shutdown(context.Background()); err != nil {
			logger.Warn("driver shutdown", zap.Error(err))
		}
	}()

	out := a.fetcher.FetchCase(ctx, id)
	rep := a.renderer.Render(out, a.format)
	w := cmd.OutOrStdout()

	if rep.Format == report.FormatDocument {
		path := fetchOut
		if path == "" {
			path = rep.Filename
		}
		if err := os.WriteFile(path, rep.Data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Fprintf(w, "%s\nwrote %s\n", rep.Text, path)
	} else {
		fmt.Fprintln(w, a.renderer.Table(out))
	}

	if !out.OK() {
		return fmt.Errorf("%w: %s", errFetchFailed, out.Failure.Category)
	}
	return nil
}
