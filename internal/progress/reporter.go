package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

// Options configures the progress reporter.
type Options struct {
	// Total is the number of items that will be dispatched.
	Total int

	// Workers is the concurrency bound (for display).
	Workers int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 2s
	UpdateInterval time.Duration

	// Interactive redraws a single status line instead of printing one
	// line per update. Default: detected from Output.
	Interactive *bool
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Total      int
	InProgress int
	Succeeded  int
	Failed     int
	Bytes      int64
}

// Pending returns the number of items not yet started.
func (s Snapshot) Pending() int {
	p := s.Total - s.Succeeded - s.Failed - s.InProgress
	if p < 0 {
		return 0
	}
	return p
}

// Reporter outputs human-readable progress for a batch of downloads.
// All counter methods are safe for concurrent use.
type Reporter struct {
	opts        Options
	interactive bool

	mu         sync.Mutex
	inProgress atomic.Int32
	succeeded  atomic.Int32
	failed     atomic.Int32
	bytes      atomic.Int64
	startTime  time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
	started    bool
	stopped    bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 2 * time.Second
	}

	interactive := false
	if opts.Interactive != nil {
		interactive = *opts.Interactive
	} else if f, ok := opts.Output.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}

	return &Reporter{
		opts:        opts,
		interactive: interactive,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[harvest] Downloading %d files with %d workers\n", r.opts.Total, r.opts.Workers)
	go r.updateLoop()
}

// Stop stops the reporter and prints the final status. Safe to call more than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// ItemStarted marks an item as in progress.
func (r *Reporter) ItemStarted() {
	r.inProgress.Add(1)
}

// ItemSucceeded marks an item as downloaded.
func (r *Reporter) ItemSucceeded(size int64) {
	r.bytes.Add(size)
	r.succeeded.Add(1)
	r.inProgress.Add(-1)
}

// ItemFailed marks an item as failed.
func (r *Reporter) ItemFailed() {
	r.failed.Add(1)
	r.inProgress.Add(-1)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Snapshot {
	return Snapshot{
		Total:      r.opts.Total,
		InProgress: int(r.inProgress.Load()),
		Succeeded:  int(r.succeeded.Load()),
		Failed:     int(r.failed.Load()),
		Bytes:      r.bytes.Load(),
	}
}

func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	s := r.Snapshot()
	line := fmt.Sprintf("[harvest] %d/%d done | %d ok | %d failed | %d in-progress | %d pending | %s",
		s.Succeeded+s.Failed, s.Total, s.Succeeded, s.Failed, s.InProgress, s.Pending(), FormatBytes(s.Bytes))
	if r.interactive {
		fmt.Fprintf(r.opts.Output, "\r%s    ", line)
		return
	}
	fmt.Fprintln(r.opts.Output, line)
}

func (r *Reporter) printFinalStatus() {
	s := r.Snapshot()
	if r.interactive {
		fmt.Fprint(r.opts.Output, "\r")
	}
	fmt.Fprintf(r.opts.Output, "[harvest] Finished: %d ok | %d failed | %s in %s\n",
		s.Succeeded, s.Failed, FormatBytes(s.Bytes), formatDuration(time.Since(r.startTime)))
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", m, s)
}
