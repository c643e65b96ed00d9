// Package table implements the small column-oriented table that per-asset
// data flows through: typed columns over a shared timestamp index. It covers
// only what the dataflow engine needs (store, rename, gather, row filters);
// operation implementations do their own math on the raw slices.
package table

import (
	"fmt"
	"time"

	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/session"
)

// Series is one typed column. Only the slice matching Kind is populated;
// Valid marks per-row presence (nil means all rows are valid).
type Series struct {
	Kind    metadata.DataType
	Floats  []float64
	Bools   []bool
	Strings []string
	Valid   []bool
}

// NewFloatSeries builds a decimal column.
func NewFloatSeries(values []float64) *Series {
	return &Series{Kind: metadata.Decimal, Floats: values}
}

// NewBoolSeries builds a boolean column.
func NewBoolSeries(values []bool) *Series {
	return &Series{Kind: metadata.Boolean, Bools: values}
}

// NewStringSeries builds a string column.
func NewStringSeries(values []string) *Series {
	return &Series{Kind: metadata.String, Strings: values}
}

// Len returns the row count.
func (s *Series) Len() int {
	switch s.Kind {
	case metadata.Boolean:
		return len(s.Bools)
	case metadata.String:
		return len(s.Strings)
	default:
		return len(s.Floats)
	}
}

// IsNull reports whether row i holds no value.
func (s *Series) IsNull(i int) bool {
	return s.Valid != nil && !s.Valid[i]
}

// SetNull marks row i as missing, allocating the validity mask lazily.
func (s *Series) SetNull(i int) {
	if s.Valid == nil {
		s.Valid = make([]bool, s.Len())
		for j := range s.Valid {
			s.Valid[j] = true
		}
	}
	s.Valid[i] = false
}

// take returns a new series holding the rows at the given indices.
func (s *Series) take(indices []int) *Series {
	out := &Series{Kind: s.Kind}
	if s.Valid != nil {
		out.Valid = make([]bool, 0, len(indices))
	}
	for _, i := range indices {
		switch s.Kind {
		case metadata.Boolean:
			out.Bools = append(out.Bools, s.Bools[i])
		case metadata.String:
			out.Strings = append(out.Strings, s.Strings[i])
		default:
			out.Floats = append(out.Floats, s.Floats[i])
		}
		if s.Valid != nil {
			out.Valid = append(out.Valid, s.Valid[i])
		}
	}
	return out
}

// Table is a set of equally sized columns over a timestamp index.
type Table struct {
	index []time.Time
	names []string
	cols  map[string]*Series
}

// New creates an empty table over the given index.
func New(index []time.Time) *Table {
	return &Table{index: index, cols: make(map[string]*Series)}
}

// NumRows returns the row count.
func (t *Table) NumRows() int { return len(t.index) }

// NumColumns returns the column count.
func (t *Table) NumColumns() int { return len(t.names) }

// Index returns the shared timestamp index.
func (t *Table) Index() []time.Time { return t.index }

// ColumnNames returns the column names in insertion order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the named series.
func (t *Table) Column(name string) (*Series, bool) {
	s, ok := t.cols[name]
	return s, ok
}

// AddColumn attaches a series under the given name. Duplicate names and row
// count mismatches are rejected; downstream merge logic depends on both.
func (t *Table) AddColumn(name string, s *Series) error {
	if _, exists := t.cols[name]; exists {
		return fmt.Errorf("duplicate column %q", name)
	}
	if s.Len() != len(t.index) {
		return fmt.Errorf("column %q has %d rows, table has %d", name, s.Len(), len(t.index))
	}
	t.cols[name] = s
	t.names = append(t.names, name)
	return nil
}

// Rename changes a column's name in place.
func (t *Table) Rename(oldName, newName string) error {
	s, ok := t.cols[oldName]
	if !ok {
		return fmt.Errorf("column %q not found", oldName)
	}
	if _, exists := t.cols[newName]; exists {
		return fmt.Errorf("duplicate column %q", newName)
	}
	delete(t.cols, oldName)
	t.cols[newName] = s
	for i, n := range t.names {
		if n == oldName {
			t.names[i] = newName
			break
		}
	}
	return nil
}

// Select returns a table with only the named columns, sharing series data.
func (t *Table) Select(names []string) (*Table, error) {
	out := New(t.index)
	for _, name := range names {
		s, ok := t.cols[name]
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		if err := out.AddColumn(name, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Merge copies every column of other into t. Row counts must match.
func (t *Table) Merge(other *Table) error {
	for _, name := range other.names {
		if err := t.AddColumn(name, other.cols[name]); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a table sharing series data but with independent column
// bookkeeping, so renames and additions do not leak back.
func (t *Table) Clone() *Table {
	out := New(t.index)
	for _, name := range t.names {
		out.cols[name] = t.cols[name]
		out.names = append(out.names, name)
	}
	return out
}

// filterRows builds a new table holding only the rows at the given indices.
func (t *Table) filterRows(indices []int) *Table {
	index := make([]time.Time, 0, len(indices))
	for _, i := range indices {
		index = append(index, t.index[i])
	}
	out := New(index)
	for _, name := range t.names {
		out.cols[name] = t.cols[name].take(indices)
		out.names = append(out.names, name)
	}
	return out
}

// DropNullRows removes every row where any column is null.
func (t *Table) DropNullRows() *Table {
	var keep []int
	for i := range t.index {
		null := false
		for _, name := range t.names {
			if t.cols[name].IsNull(i) {
				null = true
				break
			}
		}
		if !null {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(t.index) {
		return t
	}
	return t.filterRows(keep)
}

// SliceSession keeps only rows whose time of day falls inside the session
// window (UTC).
func (t *Table) SliceSession(window session.Range) *Table {
	var keep []int
	for i, ts := range t.index {
		utc := ts.UTC()
		if window.Contains(utc.Hour()*60 + utc.Minute()) {
			keep = append(keep, i)
		}
	}
	if len(keep) == len(t.index) {
		return t
	}
	return t.filterRows(keep)
}

// AlignTo re-indexes the table onto a superset index, filling rows the
// table does not cover with nulls. Both indexes must be ascending. Output
// columns computed over a filtered view (session slice, dropped null rows)
// align back onto the asset's full index this way.
func (t *Table) AlignTo(index []time.Time) *Table {
	out := New(index)
	// position[i] is the source row for target row i, or -1.
	position := make([]int, len(index))
	j := 0
	for i, ts := range index {
		position[i] = -1
		for j < len(t.index) && t.index[j].Before(ts) {
			j++
		}
		if j < len(t.index) && t.index[j].Equal(ts) {
			position[i] = j
			j++
		}
	}
	for _, name := range t.names {
		src := t.cols[name]
		dst := &Series{Kind: src.Kind, Valid: make([]bool, len(index))}
		switch src.Kind {
		case metadata.Boolean:
			dst.Bools = make([]bool, len(index))
		case metadata.String:
			dst.Strings = make([]string, len(index))
		default:
			dst.Floats = make([]float64, len(index))
		}
		for i, p := range position {
			if p < 0 || src.IsNull(p) {
				continue
			}
			dst.Valid[i] = true
			switch src.Kind {
			case metadata.Boolean:
				dst.Bools[i] = src.Bools[p]
			case metadata.String:
				dst.Strings[i] = src.Strings[p]
			default:
				dst.Floats[i] = src.Floats[p]
			}
		}
		out.cols[name] = dst
		out.names = append(out.names, name)
	}
	return out
}

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return len(t.index) == 0 }
