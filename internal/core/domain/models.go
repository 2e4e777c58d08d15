package domain

import "time"

// WorkItem is one report eligible for download.
// An empty URL field means the source cell was empty.
type WorkItem struct {
	ID          string `json:"id"`
	PrimaryURL  string `json:"primary_url"`
	FallbackURL string `json:"fallback_url"`
}

// URL returns the URL to fetch: the primary one when present, else the fallback.
func (w WorkItem) URL() string {
	if w.PrimaryURL != "" {
		return w.PrimaryURL
	}
	return w.FallbackURL
}

// UsesFallback reports whether URL resolves to the fallback column.
func (w WorkItem) UsesFallback() bool {
	return w.PrimaryURL == "" && w.FallbackURL != ""
}

// HasURL reports whether the item can be dispatched at all.
func (w WorkItem) HasURL() bool {
	return w.URL() != ""
}

// OutcomeStatus is the terminal state of one dispatched item.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// FailureKind classifies why an item failed.
type FailureKind string

const (
	FailureNone       FailureKind = ""
	FailureTransport  FailureKind = "transport"  // network or HTTP status
	FailureUnexpected FailureKind = "unexpected" // write errors, bad input
	FailureCancelled  FailureKind = "cancelled"  // run context ended before the item ran
)

// Outcome is the single result recorded for a dispatched WorkItem.
type Outcome struct {
	ID       string        `json:"id"`
	URL      string        `json:"url"`
	Status   OutcomeStatus `json:"status"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// Ledger holds the outcomes of one run in completion order.
type Ledger []Outcome

// ByID indexes the ledger by identifier.
func (l Ledger) ByID() map[string]Outcome {
	idx := make(map[string]Outcome, len(l))
	for _, o := range l {
		idx[o.ID] = o
	}
	return idx
}

// Counts returns the number of successes and failures.
func (l Ledger) Counts() (succeeded, failed int) {
	for _, o := range l {
		if o.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// Status labels written to the status report.
const (
	StatusDownloaded = "Downloaded"
	StatusFailed     = "Failed"
)

// StatusRecord is one row of the persisted status report.
type StatusRecord struct {
	ID     string
	Status string
	Error  string
}

// MirrorFailure records a file the mirror could not place remotely.
type MirrorFailure struct {
	Path  string
	Error string
}

// MirrorReport summarises one mirror pass.
type MirrorReport struct {
	Uploaded []string
	Skipped  []string
	Failed   []MirrorFailure
}

// Run identifies a single batch execution.
type Run struct {
	ID        string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// RunResult holds the outcome of a completed run.
type RunResult struct {
	Run Run

	Eligible   int // rows with at least one URL
	Skipped    int // already on disk before dispatch
	Dispatched int
	Deferred   int // beyond the batch cap, left for a later run
	Succeeded  int
	Failed     int

	Ledger   Ledger
	Statuses []StatusRecord
	Mirror   *MirrorReport

	StatusPath   string
	MetadataPath string
	BackupPath   string
	CompletedAt  time.Time
}
