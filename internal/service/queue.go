package service

import (
	"fmt"
	"log"

	"reportharvest/internal/core/domain"
)

// Columns names the source table columns that make up a work item.
type Columns struct {
	ID          string
	PrimaryURL  string
	FallbackURL string
}

// Queue is the source set split against what is already on disk.
type Queue struct {
	Eligible []domain.WorkItem // rows with at least one URL, in source order
	Skipped  []domain.WorkItem // already materialized
	Dispatch []domain.WorkItem // to download this run
	Deferred []domain.WorkItem // beyond the batch cap
}

// BuildWorkItems extracts the eligible work items from the source table.
// Rows without any URL are excluded, rows without an identifier are dropped
// with a warning, and a repeated identifier keeps its first row.
func BuildWorkItems(src *domain.Table, cols Columns, logger *log.Logger) ([]domain.WorkItem, error) {
	if !src.HasColumn(cols.ID) {
		return nil, fmt.Errorf("id column %q not found in source table", cols.ID)
	}
	hasPrimary := cols.PrimaryURL != "" && src.HasColumn(cols.PrimaryURL)
	hasFallback := cols.FallbackURL != "" && src.HasColumn(cols.FallbackURL)
	if !hasPrimary && !hasFallback {
		return nil, fmt.Errorf("neither URL column %q nor %q found in source table", cols.PrimaryURL, cols.FallbackURL)
	}

	seen := make(map[string]struct{}, src.Len())
	items := make([]domain.WorkItem, 0, src.Len())
	var noID, dups int
	for _, row := range src.Rows {
		item := domain.WorkItem{ID: row[cols.ID]}
		if hasPrimary {
			item.PrimaryURL = row[cols.PrimaryURL]
		}
		if hasFallback {
			item.FallbackURL = row[cols.FallbackURL]
		}
		if !item.HasURL() {
			continue
		}
		if item.ID == "" {
			noID++
			continue
		}
		if _, ok := seen[item.ID]; ok {
			dups++
			continue
		}
		seen[item.ID] = struct{}{}
		items = append(items, item)
	}

	if noID > 0 {
		logger.Printf("WARNING: dropped %d rows with a URL but no %s", noID, cols.ID)
	}
	if dups > 0 {
		logger.Printf("WARNING: ignored %d repeated %s values (first row wins)", dups, cols.ID)
	}
	return items, nil
}

// Partition splits eligible items into already-present, to-dispatch (at
// most limit) and deferred, preserving source order within each group.
func Partition(eligible []domain.WorkItem, existing map[string]struct{}, limit int) Queue {
	q := Queue{Eligible: eligible}
	for _, item := range eligible {
		if _, ok := existing[item.ID]; ok {
			q.Skipped = append(q.Skipped, item)
			continue
		}
		if len(q.Dispatch) < limit {
			q.Dispatch = append(q.Dispatch, item)
		} else {
			q.Deferred = append(q.Deferred, item)
		}
	}
	return q
}

// Reconciled returns the items that get status and metadata records this
// run: everything eligible except the deferred items, in source order.
func (q Queue) Reconciled() []domain.WorkItem {
	deferred := make(map[string]struct{}, len(q.Deferred))
	for _, item := range q.Deferred {
		deferred[item.ID] = struct{}{}
	}
	out := make([]domain.WorkItem, 0, len(q.Eligible)-len(q.Deferred))
	for _, item := range q.Eligible {
		if _, ok := deferred[item.ID]; !ok {
			out = append(out, item)
		}
	}
	return out
}
