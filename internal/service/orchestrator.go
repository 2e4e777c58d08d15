package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"reportharvest/internal/core/domain"
	"reportharvest/internal/core/ports"
	"reportharvest/internal/progress"
)

// Structural failures. A run that returns one of these has not dispatched
// anything and has not written any file.
var (
	ErrSourceTable = errors.New("source table")
	ErrDestination = errors.New("destination")
)

// Options configures a run.
type Options struct {
	Columns          Columns
	DownloadedColumn string

	SourcePath   string
	StatusPath   string
	MetadataPath string
	BackupPath   string

	MaxDownloads int
	Concurrency  int

	// Progress, when non-nil, receives a periodic progress line during dispatch.
	Progress io.Writer
}

// Orchestrator coordinates one batch run: queue building, dispatch and
// reconciliation of the status report and metadata table.
type Orchestrator struct {
	tables     ports.TableStore
	downloader ports.Downloader
	storage    ports.ArtifactStore
	mirror     ports.Mirror // optional
	opts       Options
	logger     *log.Logger
}

// NewOrchestrator creates a new Orchestrator. mirror may be nil.
func NewOrchestrator(
	tables ports.TableStore,
	downloader ports.Downloader,
	storage ports.ArtifactStore,
	mirror ports.Mirror,
	opts Options,
	logger *log.Logger,
) *Orchestrator {
	return &Orchestrator{
		tables:     tables,
		downloader: downloader,
		storage:    storage,
		mirror:     mirror,
		opts:       opts,
		logger:     logger,
	}
}

// Scan loads the source table and partitions it against the download
// destination. It neither downloads nor creates directories; a missing
// download directory scans as empty.
func (o *Orchestrator) Scan(ctx context.Context) (*domain.Table, Queue, error) {
	return o.scan(ctx, o.logger, false)
}

// scan builds the queue. With prepare set, every directory the run writes
// to is created before the destination is scanned.
func (o *Orchestrator) scan(ctx context.Context, logger *log.Logger, prepare bool) (*domain.Table, Queue, error) {
	logger.Printf("Reading reports data from %s...", o.opts.SourcePath)
	src, err := o.tables.Load(ctx, o.opts.SourcePath)
	if err != nil {
		return nil, Queue{}, fmt.Errorf("%w: failed to read %s: %w", ErrSourceTable, o.opts.SourcePath, err)
	}
	logger.Printf("Found %d reports in the file", src.Len())

	items, err := BuildWorkItems(src, o.opts.Columns, logger)
	if err != nil {
		return nil, Queue{}, fmt.Errorf("%w: %w", ErrSourceTable, err)
	}
	logger.Printf("Found %d reports with valid URLs", len(items))

	if prepare {
		if err := o.prepare(ctx); err != nil {
			return nil, Queue{}, fmt.Errorf("%w: failed to create directories: %w", ErrDestination, err)
		}
	}
	existing, err := o.storage.Existing(ctx)
	if err != nil {
		return nil, Queue{}, fmt.Errorf("%w: failed to scan downloads: %w", ErrDestination, err)
	}
	logger.Printf("Found %d already downloaded files", len(existing))

	q := Partition(items, existing, o.opts.MaxDownloads)
	if len(q.Deferred) > 0 {
		logger.Printf("Limiting to %d downloads this run (from %d available)",
			len(q.Dispatch), len(q.Dispatch)+len(q.Deferred))
	}
	return src, q, nil
}

// prepare creates the artifact directories and the parent directories of
// the status report, metadata table and metadata backup.
func (o *Orchestrator) prepare(ctx context.Context) error {
	if err := o.storage.Init(ctx); err != nil {
		return err
	}
	for _, p := range []string{o.opts.StatusPath, o.opts.MetadataPath, o.opts.BackupPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RunJob executes a complete batch run.
//
// Item failures are recorded in the result, never returned. The returned
// error wraps ErrSourceTable or ErrDestination for structural failures
// before dispatch, and ErrDestination when a report could not be written.
// A cancelled ctx stops dispatch; the items already handled are still
// reconciled.
func (o *Orchestrator) RunJob(ctx context.Context) (*domain.RunResult, error) {
	run := domain.Run{
		ID:        uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	logger := log.New(o.logger.Writer(), fmt.Sprintf("[RUN %s] ", run.ID), o.logger.Flags()|log.Lmsgprefix)
	result := &domain.RunResult{Run: run}
	logger.Printf("Starting run")

	src, q, err := o.scan(ctx, logger, true)
	if err != nil {
		logger.Printf("ERROR: %v", err)
		return result, err
	}
	result.Eligible = len(q.Eligible)
	result.Skipped = len(q.Skipped)
	result.Dispatched = len(q.Dispatch)
	result.Deferred = len(q.Deferred)

	if len(q.Dispatch) == 0 {
		logger.Printf("No new reports to download")
	} else {
		result.Ledger = o.dispatch(ctx, q.Dispatch, logger)
	}
	result.Succeeded, result.Failed = result.Ledger.Counts()

	// Reconciliation runs even when the run was interrupted.
	rctx := context.WithoutCancel(ctx)

	onDisk, err := o.storage.Existing(rctx)
	if err != nil {
		logger.Printf("WARNING: rescan failed, using pre-dispatch state: %v", err)
		onDisk = presentAfter(q, result.Ledger)
	}

	reconciled := q.Reconciled()
	result.Statuses = BuildStatusRecords(reconciled, result.Ledger, onDisk)

	if _, err := NewStatusReconciler(o.tables, logger).Reconcile(rctx, o.opts.StatusPath, result.Statuses); err != nil {
		logger.Printf("ERROR: %v", err)
		return result, fmt.Errorf("%w: %w", ErrDestination, err)
	}
	result.StatusPath = o.opts.StatusPath

	meta := NewMetadataReconciler(o.tables, o.opts.Columns.ID, o.opts.DownloadedColumn, logger)
	if _, err := meta.Reconcile(rctx, MetadataUpdate{
		Path:       o.opts.MetadataPath,
		BackupPath: o.opts.BackupPath,
		Items:      reconciled,
		Source:     src,
		OnDisk:     onDisk,
	}); err != nil {
		logger.Printf("ERROR: %v", err)
		return result, fmt.Errorf("%w: %w", ErrDestination, err)
	}
	result.MetadataPath = o.opts.MetadataPath
	result.BackupPath = o.opts.BackupPath

	if o.mirror != nil && ctx.Err() == nil {
		result.Mirror = o.runMirror(ctx, logger)
	}

	result.CompletedAt = time.Now().UTC()
	logger.Printf("Run completed: %d downloaded, %d failed, %d skipped, %d deferred",
		result.Succeeded, result.Failed, result.Skipped, result.Deferred)
	return result, nil
}

// Mirror pushes every local artifact to the configured mirror.
func (o *Orchestrator) Mirror(ctx context.Context) (*domain.MirrorReport, error) {
	if o.mirror == nil {
		return nil, errors.New("no mirror configured")
	}
	paths, err := o.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list downloads: %w", ErrDestination, err)
	}
	return o.mirror.Mirror(ctx, paths)
}

func (o *Orchestrator) dispatch(ctx context.Context, items []domain.WorkItem, logger *log.Logger) domain.Ledger {
	var reporter *progress.Reporter
	if o.opts.Progress != nil {
		reporter = progress.NewReporter(progress.Options{
			Total:   len(items),
			Workers: min(o.opts.Concurrency, len(items)),
			Output:  o.opts.Progress,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	logger.Printf("Downloading %d reports with %d workers", len(items), o.opts.Concurrency)
	ledger := NewDispatcher(o.downloader, o.storage, o.opts.Concurrency, logger).Dispatch(ctx, items, reporter)
	logger.Printf("All downloads finished")
	return ledger
}

// runMirror never fails the run.
func (o *Orchestrator) runMirror(ctx context.Context, logger *log.Logger) *domain.MirrorReport {
	logger.Printf("Mirroring downloads...")
	report, err := o.Mirror(ctx)
	if err != nil {
		logger.Printf("WARNING: mirror failed: %v", err)
		return nil
	}
	logger.Printf("Uploaded %d files, %d already present, %d failed",
		len(report.Uploaded), len(report.Skipped), len(report.Failed))
	return report
}

// presentAfter approximates the destination from the pre-dispatch scan and the ledger.
func presentAfter(q Queue, ledger domain.Ledger) map[string]struct{} {
	present := make(map[string]struct{}, len(q.Skipped)+len(ledger))
	for _, item := range q.Skipped {
		present[item.ID] = struct{}{}
	}
	for _, o := range ledger {
		if o.Succeeded() {
			present[o.ID] = struct{}{}
		}
	}
	return present
}
