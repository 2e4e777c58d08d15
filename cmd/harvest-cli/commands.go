package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"reportharvest/internal/adapters/blobmirror"
	"reportharvest/internal/adapters/downloader"
	"reportharvest/internal/adapters/localstorage"
	"reportharvest/internal/adapters/spreadsheet"
	"reportharvest/internal/config"
	"reportharvest/internal/core/domain"
	"reportharvest/internal/core/ports"
	"reportharvest/internal/progress"
	"reportharvest/internal/service"
)

type app struct {
	flags  *flags
	stdout io.Writer
	stderr io.Writer
	envErr error
}

// wire builds the orchestrator from cfg. The returned close func releases
// the mirror bucket and must always be called.
func (a *app) wire(ctx context.Context, cfg config.Config, logger *log.Logger, needMirror bool) (*service.Orchestrator, func(), error) {
	dl := downloader.NewHTTPDownloader(downloader.Options{
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		UserAgent:          cfg.UserAgent,
	})
	storage := localstorage.NewLocalStorage(cfg.DownloadDir, cfg.OutputDir, cfg.Extension)

	closeFn := func() {}
	var mirror ports.Mirror
	if cfg.Mirror.BucketURL != "" {
		m, err := blobmirror.Open(ctx, cfg.Mirror.BucketURL, cfg.Mirror.Prefix, logger)
		switch {
		case err == nil:
			mirror = m
			closeFn = func() {
				if err := m.Close(); err != nil {
					logger.Printf("WARNING: failed to close mirror bucket: %v", err)
				}
			}
		case needMirror:
			return nil, closeFn, err
		default:
			logger.Printf("WARNING: mirroring disabled: %v", err)
		}
	}

	opts := service.Options{
		Columns: service.Columns{
			ID:          cfg.IDColumn,
			PrimaryURL:  cfg.PrimaryURLColumn,
			FallbackURL: cfg.FallbackURLColumn,
		},
		DownloadedColumn: cfg.DownloadedColumn,
		SourcePath:       cfg.SourcePath,
		StatusPath:       cfg.StatusPath(),
		MetadataPath:     cfg.MetadataPath,
		BackupPath:       cfg.MetadataBackupPath(),
		MaxDownloads:     cfg.MaxDownloads,
		Concurrency:      cfg.Concurrency,
	}
	if !a.flags.quiet && !a.flags.noProgress {
		opts.Progress = a.stderr
	}

	return service.NewOrchestrator(spreadsheet.NewStore(), dl, storage, mirror, opts, logger), closeFn, nil
}

func (a *app) runRun(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := a.newLogger()

	logger.Println("=== Report Harvest ===")
	logger.Printf("Source:       %s", cfg.SourcePath)
	logger.Printf("Downloads:    %s", cfg.DownloadDir)
	logger.Printf("Batch size:   %d (concurrency %d, timeout %s)", cfg.MaxDownloads, cfg.Concurrency, cfg.Timeout)

	ctx, cancel := signalContext(logger)
	defer cancel()

	orchestrator, closeMirror, err := a.wire(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeMirror()

	result, err := orchestrator.RunJob(ctx)
	if err != nil {
		return err
	}
	printRunSummary(a.stdout, result)
	return nil
}

func (a *app) runScan(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	// The mirror is not needed to scan.
	cfg.Mirror.BucketURL = ""
	logger := a.newLogger()

	orchestrator, closeMirror, err := a.wire(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer closeMirror()

	_, q, err := orchestrator.Scan(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintln(a.stdout, "\n=== Scan Summary ===")
	fmt.Fprintf(a.stdout, "Eligible:     %d\n", len(q.Eligible))
	fmt.Fprintf(a.stdout, "On disk:      %d\n", len(q.Skipped))
	fmt.Fprintf(a.stdout, "Next batch:   %d\n", len(q.Dispatch))
	fmt.Fprintf(a.stdout, "Deferred:     %d\n", len(q.Deferred))
	for _, item := range q.Dispatch {
		fmt.Fprintf(a.stdout, "  → %s %s\n", item.ID, item.URL())
	}
	return nil
}

func (a *app) runMirror(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Mirror.BucketURL == "" {
		return invalidArgs(fmt.Errorf("no mirror bucket configured (use --mirror-bucket or HARVEST_MIRROR_BUCKET)"))
	}
	logger := a.newLogger()

	ctx, cancel := signalContext(logger)
	defer cancel()

	orchestrator, closeMirror, err := a.wire(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer closeMirror()

	report, err := orchestrator.Mirror(ctx)
	if err != nil {
		return err
	}
	printMirrorSummary(a.stdout, report)
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d uploads failed", len(report.Failed))
	}
	return nil
}

func printRunSummary(w io.Writer, result *domain.RunResult) {
	fmt.Fprintln(w, "\n=== Run Summary ===")
	fmt.Fprintf(w, "Run ID:       %s\n", result.Run.ID)
	fmt.Fprintf(w, "Eligible:     %d\n", result.Eligible)
	fmt.Fprintf(w, "Skipped:      %d (already downloaded)\n", result.Skipped)
	fmt.Fprintf(w, "Dispatched:   %d\n", result.Dispatched)
	fmt.Fprintf(w, "Downloaded:   %d\n", result.Succeeded)
	fmt.Fprintf(w, "Failed:       %d\n", result.Failed)
	if result.Deferred > 0 {
		fmt.Fprintf(w, "Deferred:     %d (next run)\n", result.Deferred)
	}

	outcomes := result.Ledger.ByID()
	for _, rec := range result.Statuses {
		if _, dispatched := outcomes[rec.ID]; !dispatched {
			continue
		}
		if rec.Status == domain.StatusDownloaded {
			fmt.Fprintf(w, "  ✓ %s\n", rec.ID)
		} else {
			fmt.Fprintf(w, "  ✗ %s: %s\n", rec.ID, rec.Error)
		}
	}

	fmt.Fprintf(w, "Status:       %s\n", result.StatusPath)
	fmt.Fprintf(w, "Metadata:     %s (backup %s)\n", result.MetadataPath, result.BackupPath)
	if result.Mirror != nil {
		fmt.Fprintf(w, "Mirror:       %d uploaded, %d present, %d failed\n",
			len(result.Mirror.Uploaded), len(result.Mirror.Skipped), len(result.Mirror.Failed))
	}
	fmt.Fprintf(w, "Completed At: %s\n", result.CompletedAt.Format("2006-01-02 15:04:05 UTC"))
	if s := totalBytes(result.Ledger); s > 0 {
		fmt.Fprintf(w, "Transferred:  %s\n", progress.FormatBytes(s))
	}
}

func printMirrorSummary(w io.Writer, report *domain.MirrorReport) {
	fmt.Fprintln(w, "\n=== Mirror Summary ===")
	fmt.Fprintf(w, "Uploaded:     %d\n", len(report.Uploaded))
	fmt.Fprintf(w, "Present:      %d\n", len(report.Skipped))
	fmt.Fprintf(w, "Failed:       %d\n", len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(w, "  ✗ %s: %s\n", f.Path, f.Error)
	}
	fmt.Fprintf(w, "Completed At: %s\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
}

func totalBytes(ledger domain.Ledger) int64 {
	var n int64
	for _, o := range ledger {
		n += o.Bytes
	}
	return n
}
