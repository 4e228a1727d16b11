package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	airtableextractor "github.com/kataras/airtable-extractor"
	"github.com/kataras/airtable-extractor/pkg/airtable"
	"github.com/kataras/airtable-extractor/pkg/config"
	"github.com/kataras/airtable-extractor/pkg/report"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = airtable.Version

const banner = "============================================================"

// reportedError marks an error whose message was already printed to the console.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error { return &reportedError{err: err} }

// cliFlags holds flag values. Flags left unset take their value from the configuration.
type cliFlags struct {
	outputDir string
	apiURL    string
	pageDelay time.Duration
	maxPages  int
	pageSize  int
	workers   int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// run executes the CLI with args and returns the process exit code.
func run(ctx context.Context, args []string, out io.Writer) int {
	rootCmd := newRootCmd(out)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var done *reportedError
		if !errors.As(err, &done) {
			color.New(color.FgRed).Fprintf(out, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		cfg   = &config.Config{}
		flags cliFlags
	)

	rootCmd := &cobra.Command{
		Use:   "airtable-extractor [base-id-or-name]",
		Short: "Extract all records and attachments from an Airtable base",
		Long: "Extracts every table of an Airtable base to JSON files, downloads every attachment,\n" +
			"and writes a migration report. Without arguments, lists the accessible bases.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			*cfg = *loaded
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runListBases(cmd.Context(), out, cfg, true)
			}
			return runExtract(cmd.Context(), out, cfg, args[0])
		},
	}

	rootCmd.Flags().StringVarP(&flags.outputDir, "output", "o", "airtable-export", "Output directory (a subdirectory per base is created)")
	rootCmd.PersistentFlags().StringVar(&flags.apiURL, "api-url", airtable.DefaultBaseURL, "Airtable API root URL")
	rootCmd.Flags().DurationVar(&flags.pageDelay, "page-delay", airtable.DefaultPageDelay, "Delay between record page requests")
	rootCmd.Flags().IntVar(&flags.maxPages, "max-pages", airtable.DefaultMaxPages, "Maximum number of record pages per table")
	rootCmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "Records per page, 1-100 (0 uses the API default)")
	rootCmd.Flags().IntVarP(&flags.workers, "workers", "w", 1, "Number of parallel attachment downloads")

	basesCmd := &cobra.Command{
		Use:   "bases",
		Short: "List the bases accessible with the configured token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListBases(cmd.Context(), out, cfg, false)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		// version works without a valid configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "airtable-extractor version %s\n", version)
		},
	}

	rootCmd.AddCommand(basesCmd, versionCmd)
	return rootCmd
}

// loadConfig reads the environment and .env file, then applies the flags that were
// set explicitly on cmd and validates the result.
func loadConfig(cmd *cobra.Command, flags *cliFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("output") {
		cfg.OutputDir = flags.outputDir
	}
	if changed("api-url") {
		cfg.APIBaseURL = flags.apiURL
	}
	if changed("page-delay") {
		cfg.PageDelay = flags.pageDelay
	}
	if changed("max-pages") {
		cfg.MaxPages = flags.maxPages
	}
	if changed("page-size") {
		cfg.PageSize = flags.pageSize
	}
	if changed("workers") {
		cfg.DownloadWorkers = flags.workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runExtract(ctx context.Context, out io.Writer, cfg *config.Config, identifier string) error {
	red := color.New(color.FgRed)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	if err := cfg.RequireCredential(); err != nil {
		red.Fprintf(out, "ERROR: %v\n", err)
		return reported(err)
	}

	cyan.Fprintln(out, banner)
	cyan.Fprintln(out, "AIRTABLE DATA EXTRACTION")
	cyan.Fprintln(out, banner)

	opts := airtableextractor.Options{
		AccessToken:     cfg.Credential(),
		BaseIdentifier:  identifier,
		APIBaseURL:      cfg.APIBaseURL,
		OutputDir:       cfg.OutputDir,
		PageDelay:       cfg.PageDelay,
		MaxPages:        cfg.MaxPages,
		PageSize:        cfg.PageSize,
		DownloadWorkers: cfg.DownloadWorkers,
		Logger:          newCLILogger(out, cfg),
	}

	result, err := airtableextractor.Run(ctx, opts)
	if err != nil {
		var notFound *airtable.BaseNotFoundError
		if errors.As(err, &notFound) {
			red.Fprintf(out, "\nERROR: %v\n", err)
			red.Fprintln(out, "\nAvailable bases:")
			for _, b := range notFound.Available {
				red.Fprintf(out, "  - %s (%s)\n", b.Name, b.ID)
			}
			return reported(err)
		}
		red.Fprintf(out, "\nFatal error: %v\n", err)
		return reported(err)
	}

	summary := result.Report.Summary
	cyan.Fprintln(out, "\n" + banner)
	cyan.Fprintln(out, "EXTRACTION COMPLETE")
	cyan.Fprintln(out, banner)
	fmt.Fprintf(out, "Total Tables: %d\n", summary.TotalTables)
	fmt.Fprintf(out, "Total Records: %d\n", summary.TotalRecords)
	fmt.Fprintf(out, "Total Attachments: %d\n", summary.TotalAttachments)
	if summary.TotalErrors > 0 {
		color.New(color.FgYellow).Fprintf(out, "Total Errors: %d\n", summary.TotalErrors)
	} else {
		fmt.Fprintf(out, "Total Errors: %d\n", summary.TotalErrors)
	}
	cyan.Fprintln(out, banner)

	green.Fprintf(out, "\n✓ Report saved to %s\n\n", filepath.Join(result.OutputDir, report.TextFileName))
	return nil
}

func runListBases(ctx context.Context, out io.Writer, cfg *config.Config, withUsage bool) error {
	red := color.New(color.FgRed)
	cyan := color.New(color.FgCyan)

	if err := cfg.RequireCredential(); err != nil {
		red.Fprintf(out, "ERROR: %v\n", err)
		return reported(err)
	}

	cyan.Fprintln(out, banner)
	cyan.Fprintln(out, "AVAILABLE AIRTABLE BASES")
	cyan.Fprintln(out, banner)
	fmt.Fprintln(out)

	bases, err := airtableextractor.ListBases(ctx, airtableextractor.Options{
		AccessToken: cfg.Credential(),
		APIBaseURL:  cfg.APIBaseURL,
	})
	if err != nil {
		red.Fprintf(out, "Fatal error: %v\n", err)
		return reported(err)
	}

	if len(bases) == 0 {
		fmt.Fprintln(out, "No bases found.")
		fmt.Fprintln(out, "Make sure your API token has access to bases.")
		return nil
	}

	plural := "s"
	if len(bases) == 1 {
		plural = ""
	}
	fmt.Fprintf(out, "Found %d base%s:\n\n", len(bases), plural)

	for _, b := range bases {
		fmt.Fprintf(out, "  %s\n", b.Name)
		fmt.Fprintf(out, "    ID: %s\n", b.ID)
		fmt.Fprintf(out, "    Permission: %s\n", b.PermissionLevel)
		fmt.Fprintln(out)
	}

	if !withUsage {
		return nil
	}

	cyan.Fprintln(out, banner)
	fmt.Fprintln(out, "USAGE:")
	fmt.Fprintln(out, "  airtable-extractor <base-id-or-name>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "EXAMPLES:")
	fmt.Fprintf(out, "  airtable-extractor %q\n", bases[0].Name)
	fmt.Fprintf(out, "  airtable-extractor %s\n", bases[0].ID)
	cyan.Fprintln(out, banner)
	return nil
}

// cliLogger implements airtableextractor.Logger on top of logrus.
type cliLogger struct {
	entry *logrus.Entry
}

func newCLILogger(out io.Writer, cfg *config.Config) *cliLogger {
	logger := logrus.New()
	logger.SetOutput(out)

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	switch cfg.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return &cliLogger{entry: logrus.NewEntry(logger).WithField("component", "extractor")}
}

func (l *cliLogger) Infof(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *cliLogger) Warnf(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *cliLogger) Errorf(format string, args ...any) {
	l.entry.Errorf(format, args...)
}
