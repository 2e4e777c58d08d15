package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"

	"reportharvest/internal/core/domain"
	"reportharvest/internal/core/ports"
)

// Downloaded flag values.
const (
	FlagYes = "Yes"
	FlagNo  = "No"
)

// MetadataReconciler keeps the per-identifier downloaded flag of the
// persisted metadata table in sync with the download destination.
type MetadataReconciler struct {
	tables     ports.TableStore
	idColumn   string
	flagColumn string
	logger     *log.Logger
}

// NewMetadataReconciler creates a new MetadataReconciler.
func NewMetadataReconciler(tables ports.TableStore, idColumn, flagColumn string, logger *log.Logger) *MetadataReconciler {
	return &MetadataReconciler{
		tables:     tables,
		idColumn:   idColumn,
		flagColumn: flagColumn,
		logger:     logger,
	}
}

// MetadataUpdate is the input of one metadata reconciliation.
type MetadataUpdate struct {
	Path       string
	BackupPath string
	Items      []domain.WorkItem
	Source     *domain.Table       // carried-over values, may be nil
	OnDisk     map[string]struct{} // post-download scan
}

// Reconcile backs up the metadata table, appends one row per item and
// writes the deduplicated table back to u.Path.
//
// Only source columns already present in the persisted header are carried
// over; new source columns are never added.
func (m *MetadataReconciler) Reconcile(ctx context.Context, u MetadataUpdate) (*domain.Table, error) {
	table, exists := m.previous(ctx, u.Path)

	if err := m.backup(ctx, u, table, exists); err != nil {
		return nil, err
	}

	ensureColumns(table, m.idColumn, m.flagColumn)
	sourceRows := firstRows(u.Source, m.idColumn)

	for _, item := range u.Items {
		row := domain.Row{m.idColumn: item.ID, m.flagColumn: FlagNo}
		if _, ok := u.OnDisk[item.ID]; ok {
			row[m.flagColumn] = FlagYes
		}
		if src, ok := sourceRows[item.ID]; ok {
			for _, col := range table.Columns {
				if col == m.idColumn || col == m.flagColumn || !u.Source.HasColumn(col) {
					continue
				}
				row[col] = src[col]
			}
		}
		table.Append(row)
	}
	m.logger.Printf("Created %d new metadata entries", len(u.Items))

	if n := table.DedupLast(m.idColumn); n > 0 {
		m.logger.Printf("Removed %d duplicate entries", n)
	}

	if err := m.tables.Save(ctx, u.Path, table); err != nil {
		return nil, fmt.Errorf("failed to save metadata: %w", err)
	}
	m.logger.Printf("Saved updated metadata with %d entries to: %s", table.Len(), u.Path)
	return table, nil
}

// previous loads the persisted table. exists reports whether a file was
// found, readable or not.
func (m *MetadataReconciler) previous(ctx context.Context, path string) (table *domain.Table, exists bool) {
	prev, err := m.tables.Load(ctx, path)
	switch {
	case err == nil:
		m.logger.Printf("Loaded existing metadata with %d entries", prev.Len())
		return prev, true
	case errors.Is(err, fs.ErrNotExist):
		m.logger.Printf("Creating new metadata file (not found at %s)", path)
		return domain.NewTable(m.idColumn, m.flagColumn), false
	default:
		m.logger.Printf("WARNING: error reading existing metadata, starting empty: %v", err)
		return domain.NewTable(m.idColumn, m.flagColumn), true
	}
}

func (m *MetadataReconciler) backup(ctx context.Context, u MetadataUpdate, table *domain.Table, exists bool) error {
	if u.BackupPath == "" {
		return nil
	}
	var err error
	if exists {
		err = m.tables.Copy(ctx, u.Path, u.BackupPath)
	} else {
		err = m.tables.Save(ctx, u.BackupPath, table)
	}
	if err != nil {
		return fmt.Errorf("failed to back up metadata: %w", err)
	}
	m.logger.Printf("Saved metadata backup to: %s", u.BackupPath)
	return nil
}

// firstRows indexes t by key, keeping the first row of every value.
func firstRows(t *domain.Table, key string) map[string]domain.Row {
	if t == nil {
		return nil
	}
	rows := make(map[string]domain.Row, t.Len())
	for _, r := range t.Rows {
		if _, ok := rows[r[key]]; !ok {
			rows[r[key]] = r
		}
	}
	return rows
}
