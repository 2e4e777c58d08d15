package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"reportharvest/internal/core/domain"
	"reportharvest/internal/core/ports"
)

// Status report columns.
const (
	StatusIDColumn     = "Report ID"
	StatusStateColumn  = "Status"
	StatusErrorColumn  = "Error Message"
	statusNotFoundText = "File not found"
)

// BuildStatusRecords derives one record per item. The ledger decides for
// dispatched items; items without an outcome are judged by onDisk.
func BuildStatusRecords(items []domain.WorkItem, ledger domain.Ledger, onDisk map[string]struct{}) []domain.StatusRecord {
	outcomes := ledger.ByID()
	records := make([]domain.StatusRecord, 0, len(items))
	for _, item := range items {
		rec := domain.StatusRecord{ID: item.ID}
		o, dispatched := outcomes[item.ID]
		_, present := onDisk[item.ID]
		switch {
		case dispatched && o.Succeeded():
			rec.Status = domain.StatusDownloaded
		case dispatched:
			rec.Status = domain.StatusFailed
			rec.Error = o.Detail
		case present:
			rec.Status = domain.StatusDownloaded
		default:
			rec.Status = domain.StatusFailed
			rec.Error = statusNotFoundText
		}
		records = append(records, rec)
	}
	return records
}

// StatusReconciler merges status records into the persisted status report.
type StatusReconciler struct {
	tables ports.TableStore
	logger *log.Logger
}

// NewStatusReconciler creates a new StatusReconciler.
func NewStatusReconciler(tables ports.TableStore, logger *log.Logger) *StatusReconciler {
	return &StatusReconciler{tables: tables, logger: logger}
}

// Reconcile appends records to the report at path, keeps the latest row per
// identifier and writes the result back. Identifiers absent from records keep
// their previous row. An unreadable previous report is moved aside and
// replaced.
func (r *StatusReconciler) Reconcile(ctx context.Context, path string, records []domain.StatusRecord) (*domain.Table, error) {
	table := r.previous(ctx, path)

	ensureColumns(table, StatusIDColumn, StatusStateColumn, StatusErrorColumn)
	for _, rec := range records {
		table.Append(domain.Row{
			StatusIDColumn:    rec.ID,
			StatusStateColumn: rec.Status,
			StatusErrorColumn: rec.Error,
		})
	}
	if n := table.DedupLast(StatusIDColumn); n > 0 {
		r.logger.Printf("Replaced %d earlier status entries", n)
	}

	if err := r.tables.Save(ctx, path, table); err != nil {
		return nil, fmt.Errorf("failed to save status report: %w", err)
	}
	r.logger.Printf("Download status report saved to: %s (%d entries)", path, table.Len())
	return table, nil
}

func (r *StatusReconciler) previous(ctx context.Context, path string) *domain.Table {
	prev, err := r.tables.Load(ctx, path)
	switch {
	case err == nil:
		r.logger.Printf("Appending to existing download status report: %s", path)
		return prev
	case errors.Is(err, fs.ErrNotExist):
		r.logger.Printf("Creating new download status report")
	default:
		aside := unreadablePath(path)
		r.logger.Printf("WARNING: error reading existing status report: %v", err)
		if cerr := r.tables.Copy(ctx, path, aside); cerr != nil {
			r.logger.Printf("WARNING: could not keep unreadable report: %v", cerr)
		} else {
			r.logger.Printf("Kept unreadable report as %s, creating a new one", aside)
		}
	}
	return domain.NewTable(StatusIDColumn, StatusStateColumn, StatusErrorColumn)
}

// unreadablePath maps Download_Status.xlsx to Download_Status_Unreadable.xlsx.
func unreadablePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_Unreadable" + ext
}

// ensureColumns adds missing columns to the header, keeping existing ones in place.
func ensureColumns(t *domain.Table, columns ...string) {
	for _, c := range columns {
		if !t.HasColumn(c) {
			t.Columns = append(t.Columns, c)
		}
	}
}
