package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"reportharvest/internal/config"
	"reportharvest/internal/service"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitSourceTableError = 3
	ExitDestinationError = 4
)

// exitError carries the exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidArgs(err error) error {
	return &exitError{code: ExitInvalidArgs, err: err}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flags holds command line overrides. Only flags the user set are applied.
type flags struct {
	configPath   string
	sourcePath   string
	metadataPath string
	downloadDir  string
	outputDir    string
	maxDownloads int
	concurrency  int
	timeout      time.Duration
	insecure     bool
	userAgent    string
	mirrorBucket string
	mirrorPrefix string
	quiet        bool
	noProgress   bool
}

func run(args []string, stdout, stderr io.Writer) int {
	// Load .env file if it exists
	envErr := godotenv.Load()

	var f flags
	root := newRootCmd(&f, stdout, stderr, envErr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	if err == nil {
		return ExitSuccess
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, service.ErrSourceTable):
		return ExitSourceTableError
	case errors.Is(err, service.ErrDestination):
		return ExitDestinationError
	default:
		return ExitGeneralError
	}
}

func newRootCmd(f *flags, stdout, stderr io.Writer, envErr error) *cobra.Command {
	root := &cobra.Command{
		Use:   "harvest-cli",
		Short: "Batch-download report PDFs listed in a spreadsheet",
		Long: `harvest-cli reads report identifiers and URLs from a spreadsheet,
downloads the reports that are not on disk yet, records the outcome in a
status report, updates the metadata table and optionally mirrors the
downloads to a bucket (gs://, s3://, file://).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          noArgs,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return invalidArgs(err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Path to a YAML config file")
	pf.StringVar(&f.sourcePath, "source", "", "Spreadsheet listing the reports (.xlsx or .csv)")
	pf.StringVar(&f.metadataPath, "metadata", "", "Metadata table to update")
	pf.StringVar(&f.downloadDir, "download-dir", "", "Directory for downloaded files")
	pf.StringVar(&f.outputDir, "output-dir", "", "Directory for the status report and metadata backup")
	pf.IntVarP(&f.maxDownloads, "max-downloads", "n", 0, "Maximum number of downloads per run")
	pf.IntVarP(&f.concurrency, "concurrency", "j", 0, "Number of parallel downloads")
	pf.DurationVar(&f.timeout, "timeout", 0, "Timeout per download")
	pf.BoolVar(&f.insecure, "insecure", false, "Skip TLS certificate verification")
	pf.StringVar(&f.userAgent, "user-agent", "", "User-Agent header for downloads")
	pf.StringVar(&f.mirrorBucket, "mirror-bucket", "", "Bucket URL to mirror downloads to (empty disables)")
	pf.StringVar(&f.mirrorPrefix, "mirror-prefix", "", "Key prefix inside the mirror bucket")
	pf.BoolVarP(&f.quiet, "quiet", "q", false, "Only print the final summary")
	pf.BoolVar(&f.noProgress, "no-progress", false, "Disable the progress line")

	a := &app{flags: f, stdout: stdout, stderr: stderr, envErr: envErr}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Download pending reports and update the status report and metadata",
		Args:  noArgs,
		RunE:  a.runRun,
	}
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Show how many reports are eligible, on disk and pending without downloading",
		Long: `scan reads the source spreadsheet and compares it with the download
directory. It downloads nothing and writes nothing, not even the download
or output directories; a missing download directory counts as empty.`,
		Args:  noArgs,
		RunE:  a.runScan,
	}
	mirrorCmd := &cobra.Command{
		Use:   "mirror",
		Short: "Upload downloaded reports to the mirror bucket",
		Args:  noArgs,
		RunE:  a.runMirror,
	}
	root.RunE = a.runRun
	root.AddCommand(runCmd, scanCmd, mirrorCmd)
	return root
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return invalidArgs(fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath()))
	}
	return nil
}

// loadConfig layers defaults, the config file, the environment and flags.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if a.flags.configPath != "" {
		fileCfg, err := config.LoadFromFile(a.flags.configPath)
		if err != nil {
			return config.Config{}, invalidArgs(err)
		}
		cfg = fileCfg
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, invalidArgs(err)
	}

	changed := cmd.Flags().Changed
	f := a.flags
	var override config.Config
	if changed("source") {
		override.SourcePath = f.sourcePath
	}
	if changed("metadata") {
		override.MetadataPath = f.metadataPath
	}
	if changed("download-dir") {
		override.DownloadDir = f.downloadDir
	}
	if changed("output-dir") {
		override.OutputDir = f.outputDir
	}
	if changed("user-agent") {
		override.UserAgent = f.userAgent
	}
	if changed("mirror-bucket") {
		override.Mirror.BucketURL = f.mirrorBucket
	}
	if changed("mirror-prefix") {
		override.Mirror.Prefix = f.mirrorPrefix
	}
	cfg = cfg.Merge(override)

	// Numeric flags are applied directly so an explicit 0 reaches Validate.
	if changed("max-downloads") {
		cfg.MaxDownloads = f.maxDownloads
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if changed("insecure") {
		cfg.InsecureSkipVerify = f.insecure
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, invalidArgs(err)
	}
	return cfg, nil
}

func (a *app) newLogger() *log.Logger {
	if a.flags.quiet {
		return log.New(io.Discard, "", 0)
	}
	logger := log.New(a.stdout, "", log.LstdFlags)
	if a.envErr != nil && !errors.Is(a.envErr, fs.ErrNotExist) {
		logger.Printf("WARNING: could not load .env: %v", a.envErr)
	}
	return logger
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Println("Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
