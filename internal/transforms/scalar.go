package transforms

import (
	"time"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/table"
)

// Scalar kinds yield a single-row result regardless of the input row
// count. Downstream consumers broadcast the value themselves.

type scalarTransform struct {
	build func() *table.Series
}

func (s *scalarTransform) TransformData(input *table.Table) (*table.Table, error) {
	index := []time.Time{{}}
	if input.NumRows() > 0 {
		index[0] = input.Index()[0]
	}
	out := table.New(index)
	if err := out.AddColumn(metadata.Result, s.build()); err != nil {
		return nil, err
	}
	return out, nil
}

func scalarBuilders() map[string]Builder {
	return map[string]Builder{
		"number": func(v *graph.ValidatedNode) (Transform, error) {
			val, _ := v.Node.Options["value"].AsBigFloat().Float64()
			return &scalarTransform{build: func() *table.Series {
				return table.NewFloatSeries([]float64{val})
			}}, nil
		},
		"text": func(v *graph.ValidatedNode) (Transform, error) {
			val := v.Node.Options["value"].AsString()
			return &scalarTransform{build: func() *table.Series {
				return table.NewStringSeries([]string{val})
			}}, nil
		},
		"bool_true": func(*graph.ValidatedNode) (Transform, error) {
			return &scalarTransform{build: func() *table.Series {
				return table.NewBoolSeries([]bool{true})
			}}, nil
		},
		"bool_false": func(*graph.ValidatedNode) (Transform, error) {
			return &scalarTransform{build: func() *table.Series {
				return table.NewBoolSeries([]bool{false})
			}}, nil
		},
		"null_number": func(*graph.ValidatedNode) (Transform, error) {
			return &scalarTransform{build: func() *table.Series {
				s := table.NewFloatSeries([]float64{0})
				s.SetNull(0)
				return s
			}}, nil
		},
	}
}
