package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"reportharvest/internal/core/domain"
	"reportharvest/internal/core/ports"
	"reportharvest/internal/progress"
)

var errNoURL = errors.New("no download URL")

// Dispatcher downloads a queue of work items with at most Concurrency
// downloads in flight and returns exactly one outcome per item.
type Dispatcher struct {
	downloader  ports.Downloader
	storage     ports.ArtifactStore
	concurrency int
	logger      *log.Logger
}

// NewDispatcher creates a new Dispatcher. A concurrency below 1 is treated as 1.
func NewDispatcher(downloader ports.Downloader, storage ports.ArtifactStore, concurrency int, logger *log.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		downloader:  downloader,
		storage:     storage,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Dispatch hands items to the worker pool in queue order and blocks until
// every item has an outcome. The ledger is in completion order. Items that
// could not be handed to a worker because ctx ended get a cancelled outcome.
// reporter may be nil.
func (d *Dispatcher) Dispatch(ctx context.Context, items []domain.WorkItem, reporter *progress.Reporter) domain.Ledger {
	if len(items) == 0 {
		return domain.Ledger{}
	}

	workers := d.concurrency
	if workers > len(items) {
		workers = len(items)
	}

	jobs := make(chan domain.WorkItem)
	results := make(chan domain.Outcome, workers)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				results <- d.downloadOne(ctx, item, reporter)
			}
		}()
	}

	// Feed jobs to workers
	go func() {
		defer close(jobs)
		for i, item := range items {
			if ctx.Err() == nil {
				select {
				case jobs <- item:
					continue
				case <-ctx.Done():
				}
			}
			for _, rest := range items[i:] {
				results <- cancelled(rest, ctx.Err())
			}
			return
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ledger := make(domain.Ledger, 0, len(items))
	for o := range results {
		ledger = append(ledger, o)
	}
	return ledger
}

// downloadOne runs a single item. Panics are converted into an unexpected failure.
func (d *Dispatcher) downloadOne(ctx context.Context, item domain.WorkItem, reporter *progress.Reporter) (out domain.Outcome) {
	start := time.Now()
	out = domain.Outcome{ID: item.ID, URL: item.URL()}
	if reporter != nil {
		reporter.ItemStarted()
	}

	defer func() {
		if r := recover(); r != nil {
			out.Status = domain.OutcomeFailure
			out.Kind = domain.FailureUnexpected
			out.Detail = fmt.Sprintf("unexpected error: %v", r)
		}
		out.Duration = time.Since(start)

		if out.Succeeded() {
			d.logger.Printf("✓ Successfully downloaded %s (%s)", item.ID, progress.FormatBytes(out.Bytes))
			if reporter != nil {
				reporter.ItemSucceeded(out.Bytes)
			}
			return
		}
		d.logger.Printf("✗ Failed to download %s: %s", item.ID, out.Detail)
		if reporter != nil {
			reporter.ItemFailed()
		}
	}()

	n, err := d.fetch(ctx, item)
	out.Bytes = n
	if err != nil {
		out.Status = domain.OutcomeFailure
		out.Kind, out.Detail = classify(err)
		return out
	}
	out.Status = domain.OutcomeSuccess
	return out
}

func (d *Dispatcher) fetch(ctx context.Context, item domain.WorkItem) (int64, error) {
	url := item.URL()
	if url == "" {
		return 0, errNoURL
	}

	source := "primary"
	if item.UsesFallback() {
		source = "fallback"
	}
	d.logger.Printf("Downloading %s from %s URL...", item.ID, source)

	body, err := d.downloader.Download(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	return d.storage.Save(ctx, item.ID, body)
}

// classify maps an item error to its failure kind and a human-readable cause.
func classify(err error) (domain.FailureKind, string) {
	var te *ports.TransportError
	switch {
	// The HTTP client reports an interrupted request as a transport error
	// wrapping context.Canceled.
	case errors.Is(err, context.Canceled):
		return domain.FailureCancelled, "cancelled: " + err.Error()
	case errors.As(err, &te):
		return domain.FailureTransport, "network error: " + te.Error()
	default:
		return domain.FailureUnexpected, "unexpected error: " + err.Error()
	}
}

func cancelled(item domain.WorkItem, cause error) domain.Outcome {
	if cause == nil {
		cause = context.Canceled
	}
	return domain.Outcome{
		ID:     item.ID,
		URL:    item.URL(),
		Status: domain.OutcomeFailure,
		Kind:   domain.FailureCancelled,
		Detail: "cancelled before download started: " + cause.Error(),
	}
}
