package transforms

import (
	"sort"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/table"
)

// crossSectionalRank ranks each row's value across the whole asset
// universe. The orchestrator materializes its input as one column per
// asset; the output mirrors that shape with percentile ranks in [0, 1].
type crossSectionalRank struct{}

func newCrossSectionalRank(*graph.ValidatedNode) (Transform, error) {
	return crossSectionalRank{}, nil
}

func (crossSectionalRank) TransformData(input *table.Table) (*table.Table, error) {
	names := input.ColumnNames()
	rows := input.NumRows()

	ranked := make(map[string][]float64, len(names))
	valid := make(map[string]*table.Series, len(names))
	for _, name := range names {
		ranked[name] = make([]float64, rows)
		s, _ := input.Column(name)
		valid[name] = s
	}

	type entry struct {
		name  string
		value float64
	}
	for i := 0; i < rows; i++ {
		row := make([]entry, 0, len(names))
		for _, name := range names {
			s := valid[name]
			if s.IsNull(i) {
				continue
			}
			row = append(row, entry{name: name, value: s.Floats[i]})
		}
		sort.Slice(row, func(a, b int) bool { return row[a].value < row[b].value })
		denom := float64(len(row) - 1)
		for pos, e := range row {
			if denom == 0 {
				ranked[e.name][i] = 1
				continue
			}
			ranked[e.name][i] = float64(pos) / denom
		}
	}

	out := table.New(input.Index())
	for _, name := range names {
		s := table.NewFloatSeries(ranked[name])
		src := valid[name]
		if src.Valid != nil {
			for i := range src.Valid {
				if !src.Valid[i] {
					s.SetNull(i)
				}
			}
		}
		if err := out.AddColumn(name, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}
