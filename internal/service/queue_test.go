package service

import (
	"fmt"
	"testing"

	"reportharvest/internal/core/domain"
)

var testColumns = Columns{ID: "BRnum", PrimaryURL: "Pdf_URL", FallbackURL: "Report Html Address"}

func sourceTable(rows ...domain.Row) *domain.Table {
	t := domain.NewTable("BRnum", "Pdf_URL", "Report Html Address", "Title")
	t.Append(rows...)
	return t
}

func ids(items []domain.WorkItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestBuildWorkItems(t *testing.T) {
	src := sourceTable(
		domain.Row{"BRnum": "X1", "Title": "no urls"},
		domain.Row{"BRnum": "X2", "Pdf_URL": "https://a.example/x2.pdf"},
		domain.Row{"BRnum": "X3", "Report Html Address": "https://a.example/x3.html"},
		domain.Row{"BRnum": "", "Pdf_URL": "https://a.example/anon.pdf"},
		domain.Row{"BRnum": "X2", "Pdf_URL": "https://a.example/x2-again.pdf"},
	)

	got, err := BuildWorkItems(src, testColumns, testLogger(t))
	if err != nil {
		t.Fatalf("BuildWorkItems: %v", err)
	}

	if fmt.Sprint(ids(got)) != "[X2 X3]" {
		t.Fatalf("expected [X2 X3], got %v", ids(got))
	}
	if got[0].PrimaryURL != "https://a.example/x2.pdf" {
		t.Errorf("expected first row to win for X2, got %s", got[0].PrimaryURL)
	}
	if !got[1].UsesFallback() {
		t.Error("expected X3 to use its fallback URL")
	}
}

func TestBuildWorkItemsSingleURLColumn(t *testing.T) {
	src := domain.NewTable("BRnum", "Pdf_URL")
	src.Append(domain.Row{"BRnum": "A", "Pdf_URL": "https://a.example/a.pdf"})

	got, err := BuildWorkItems(src, testColumns, testLogger(t))
	if err != nil {
		t.Fatalf("BuildWorkItems: %v", err)
	}
	if len(got) != 1 || got[0].FallbackURL != "" {
		t.Errorf("unexpected items %+v", got)
	}
}

func TestBuildWorkItemsStructuralErrors(t *testing.T) {
	tests := []struct {
		name  string
		table *domain.Table
	}{
		{"missing id column", domain.NewTable("Pdf_URL", "Report Html Address")},
		{"missing url columns", domain.NewTable("BRnum", "Title")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := BuildWorkItems(tt.table, testColumns, testLogger(t)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPartitionBatchCap(t *testing.T) {
	var eligible []domain.WorkItem
	for i := 1; i <= 13; i++ {
		eligible = append(eligible, domain.WorkItem{ID: fmt.Sprintf("X%d", i), PrimaryURL: "u"})
	}
	existing := map[string]struct{}{"X2": {}}

	q := Partition(eligible, existing, 10)

	if fmt.Sprint(ids(q.Skipped)) != "[X2]" {
		t.Errorf("expected X2 skipped, got %v", ids(q.Skipped))
	}
	if len(q.Dispatch) != 10 {
		t.Fatalf("expected 10 dispatched, got %d", len(q.Dispatch))
	}
	if q.Dispatch[0].ID != "X1" || q.Dispatch[9].ID != "X11" {
		t.Errorf("expected dispatch X1..X11 without X2, got %v", ids(q.Dispatch))
	}
	if fmt.Sprint(ids(q.Deferred)) != "[X12 X13]" {
		t.Errorf("expected X12 X13 deferred, got %v", ids(q.Deferred))
	}

	rec := q.Reconciled()
	if len(rec) != 11 {
		t.Fatalf("expected 11 reconciled items, got %d", len(rec))
	}
	if rec[0].ID != "X1" || rec[1].ID != "X2" || rec[10].ID != "X11" {
		t.Errorf("expected source order, got %v", ids(rec))
	}
}

func TestPartitionNothingToDo(t *testing.T) {
	q := Partition(items("A", "B"), map[string]struct{}{"A": {}, "B": {}}, 10)
	if len(q.Dispatch) != 0 || len(q.Deferred) != 0 || len(q.Skipped) != 2 {
		t.Errorf("unexpected partition %+v", q)
	}
}
