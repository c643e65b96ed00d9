package orchestrator

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/openquant/flowscript/internal/table"
)

// literalSeries materializes a literal constant as a column of the given
// row count. Unsupported literal types yield an all-null column.
func literalSeries(v cty.Value, rows int) *table.Series {
	switch {
	case v.IsNull():
		s := table.NewFloatSeries(make([]float64, rows))
		for i := 0; i < rows; i++ {
			s.SetNull(i)
		}
		return s
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		values := make([]float64, rows)
		for i := range values {
			values[i] = f
		}
		return table.NewFloatSeries(values)
	case v.Type() == cty.Bool:
		values := make([]bool, rows)
		for i := range values {
			values[i] = v.True()
		}
		return table.NewBoolSeries(values)
	case v.Type() == cty.String:
		values := make([]string, rows)
		for i := range values {
			values[i] = v.AsString()
		}
		return table.NewStringSeries(values)
	default:
		s := table.NewFloatSeries(make([]float64, rows))
		for i := 0; i < rows; i++ {
			s.SetNull(i)
		}
		return s
	}
}

// broadcast repeats a single-row series to the given row count. A node
// combining a scalar with a windowed series performs the broadcast here
// rather than inside the transform.
func broadcast(s *table.Series, rows int) *table.Series {
	if s.Len() == rows {
		return s
	}
	if s.Len() == 0 {
		return s
	}
	out := &table.Series{Kind: s.Kind}
	null := s.IsNull(0)
	switch {
	case len(s.Bools) > 0:
		out.Bools = make([]bool, rows)
		for i := range out.Bools {
			out.Bools[i] = s.Bools[0]
		}
	case len(s.Strings) > 0:
		out.Strings = make([]string, rows)
		for i := range out.Strings {
			out.Strings[i] = s.Strings[0]
		}
	default:
		out.Floats = make([]float64, rows)
		for i := range out.Floats {
			out.Floats[i] = s.Floats[0]
		}
	}
	if null {
		for i := 0; i < rows; i++ {
			out.SetNull(i)
		}
	}
	return out
}
