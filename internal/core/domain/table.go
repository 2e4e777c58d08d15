package domain

// Row maps column names to cell values. A missing key and an empty string both mean an empty cell.
type Row map[string]string

// Table is the in-memory form of a spreadsheet: a header plus rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given header.
func NewTable(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// HasColumn reports whether name is part of the header.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Append adds rows. Values for columns outside the header are dropped so the schema never grows implicitly.
func (t *Table) Append(rows ...Row) {
	for _, r := range rows {
		row := make(Row, len(t.Columns))
		for _, c := range t.Columns {
			if v, ok := r[c]; ok {
				row[c] = v
			}
		}
		t.Rows = append(t.Rows, row)
	}
}

// Get returns a cell value, empty when absent.
func (t *Table) Get(i int, column string) string {
	return t.Rows[i][column]
}

// Index maps each value of key to the position of its last row.
func (t *Table) Index(key string) map[string]int {
	idx := make(map[string]int, len(t.Rows))
	for i, r := range t.Rows {
		idx[r[key]] = i
	}
	return idx
}

// DedupLast keeps only the last row for every value of key, preserving the
// relative order of the surviving rows. It returns the number of rows removed.
func (t *Table) DedupLast(key string) int {
	last := t.Index(key)
	kept := t.Rows[:0:0]
	for i, r := range t.Rows {
		if last[r[key]] == i {
			kept = append(kept, r)
		}
	}
	removed := len(t.Rows) - len(kept)
	t.Rows = kept
	return removed
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := NewTable(t.Columns...)
	c.Rows = make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		row := make(Row, len(r))
		for k, v := range r {
			row[k] = v
		}
		c.Rows[i] = row
	}
	return c
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}
