package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/phimask/phimask/pkg/config"
	"github.com/phimask/phimask/pkg/database"
	"github.com/phimask/phimask/pkg/ledger"
	"github.com/phimask/phimask/pkg/pipeline"
	"github.com/phimask/phimask/pkg/version"
)

func maskCmd() *cobra.Command {
	var (
		job         pipeline.FileJob
		crmInput    string
		dbInput     string
		aliasPath   string
		placeholder string
	)
	cmd := &cobra.Command{
		Use:   "mask",
		Short: "Mask patient rows from local CSV exports into one CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			aliases, err := config.LoadAliases(aliasPath)
			if err != nil {
				return err
			}
			job.Inputs = []string{crmInput, dbInput}
			job.Aliases = aliases
			job.Placeholder = placeholder

			summary, err := pipeline.RunFiles(cmd.Context(), job)
			if err != nil {
				return err
			}
			for _, path := range summary.Outputs {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&crmInput, "sf", "tests/test_data/salesforce_sample.csv", "CRM export CSV")
	cmd.Flags().StringVar(&dbInput, "sql", "tests/test_data/mysql_sample.csv", "Database export CSV")
	cmd.Flags().StringVar(&job.Output, "out", "mocked_output.csv", "Masked output CSV")
	cmd.Flags().StringVar(&job.RealOutput, "real", "", "Optional unmasked output CSV with the same columns")
	cmd.Flags().StringVar(&aliasPath, "aliases", filepath.Join("config", config.DefaultAliasFile), "Column alias file")
	cmd.Flags().StringVar(&job.IdentifierColumn, "identifier", config.DefaultIdentifierColumn, "Canonical identifier column")
	cmd.Flags().Uint64Var(&job.Seed, "seed", config.DefaultSeed, "Identity generator seed")
	cmd.Flags().StringVar(&placeholder, "placeholder", "", "Value written to masked columns with no synthetic field")
	cmd.Flags().BoolVar(&job.MaskIdentifier, "mask-identifier", false, "Replace the identifier with a synthetic patient_id")
	return cmd
}

type configFlags struct {
	dir     string
	envFile string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.dir, "config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	cmd.Flags().StringVar(&f.envFile, "env-file", "", "Environment file (default: .env in the configuration directory)")
}

// load reads the environment file, then the configuration that may reference it.
func (f *configFlags) load(cmd *cobra.Command) (*config.Config, error) {
	envPath := f.envFile
	if envPath == "" {
		envPath = filepath.Join(f.dir, ".env")
	}
	if err := godotenv.Load(envPath); err != nil {
		if f.envFile != "" {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
		slog.Debug("No .env file loaded, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}
	return config.Initialize(cmd.Context(), f.dir)
}

func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	dbCfg, err := database.LoadConfigFromEnv("LEDGER_DB_", database.DriverPostgres)
	if err != nil {
		return nil, err
	}
	return ledger.Open(cmd.Context(), dbCfg)
}

func runCmd() *cobra.Command {
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, mask and export every configured source and join",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}

			fetchers, conns, err := buildFetchers(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conns.Close()

			var opts []pipeline.Option
			if cfg.Ledger.Enabled {
				l, err := openLedger(cmd)
				if err != nil {
					return fmt.Errorf("failed to open run ledger: %w", err)
				}
				defer func() {
					if err := l.Close(); err != nil {
						slog.Error("Error closing run ledger", "error", err)
					}
				}()
				opts = append(opts, pipeline.WithRecorder(l))
			}

			p, err := pipeline.New(cfg, fetchers, opts...)
			if err != nil {
				return err
			}
			summary, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			for _, path := range summary.Outputs {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and prune the run ledger",
	}
	cmd.AddCommand(ledgerListCmd())
	cmd.AddCommand(ledgerPruneCmd())
	return cmd
}

func ledgerListCmd() *cobra.Command {
	flags := &configFlags{}
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := flags.load(cmd); err != nil {
				return err
			}
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			runs, err := l.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd, runs)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

func printRuns(cmd *cobra.Command, runs []ledger.Run) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTATUS\tSTARTED\tDURATION\tIDENTIFIERS\tOUTPUTS")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			r.ID, r.Status, r.StartedAt.Local().Format(time.RFC3339), duration, r.Identifiers, len(r.Outputs))
	}
	return w.Flush()
}

func ledgerPruneCmd() *cobra.Command {
	flags := &configFlags{}
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("older-than") {
				olderThan = cfg.Ledger.Retention
			}
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			l, err := openLedger(cmd)
			if err != nil {
				return err
			}
			defer l.Close()

			n, err := l.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&olderThan, "older-than", config.DefaultLedgerRetention, "Delete runs started before this age (default: ledger.retention)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
