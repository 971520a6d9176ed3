// phimask de-identifies patient records: it fetches them from a CRM and a
// relational database (or local CSV exports), replaces identifying fields
// with consistent synthetic values, and writes CSV exports.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phimask/phimask/pkg/config"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("phimask failed", "error", err)
		os.Exit(1)
	}
}

type logOptions struct {
	format string
	level  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &logOptions{}
	rootCmd := &cobra.Command{
		Use:           "phimask",
		Short:         "De-identify patient records with consistent synthetic identities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(stderr, opts.format, opts.level)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.PersistentFlags().StringVar(&opts.format, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&opts.level, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn or error")

	rootCmd.AddCommand(maskCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(versionCmd())
	return rootCmd
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	switch config.LogFormat(strings.ToLower(format)) {
	case config.LogFormatText:
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q (want text or json)", format)
}
