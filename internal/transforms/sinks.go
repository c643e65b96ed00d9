package transforms

import (
	"fmt"
	"strconv"

	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/report"
	"github.com/openquant/flowscript/internal/table"
)

// Sinks forward their input unchanged; they have no declared outputs, so
// nothing is stored. Their value lies in the dashboard or event-marker
// capture that follows TransformData.

// tradeSignal summarizes entry and exit signal counts.
type tradeSignal struct{}

func newTradeSignal(*graph.ValidatedNode) (Transform, error) {
	return tradeSignal{}, nil
}

func (tradeSignal) TransformData(input *table.Table) (*table.Table, error) {
	return input, nil
}

func (tradeSignal) GetDashboard(output *table.Table) *report.Report {
	r := &report.Report{}
	for _, name := range []string{"enter_long", "exit_long", "enter_short", "exit_short"} {
		s, ok := output.Column(name)
		if !ok || s.Kind != metadata.Boolean {
			continue
		}
		count := 0
		for i, b := range s.Bools {
			if b && !s.IsNull(i) {
				count++
			}
		}
		r.Cards = append(r.Cards, report.Card{
			Title:    name,
			Value:    float64(count),
			Category: "signals",
		})
	}
	if r.Empty() {
		return nil
	}
	return r
}

// tableReport renders its input columns as a tabular artifact.
type tableReport struct {
	title string
}

func newTableReport(v *graph.ValidatedNode) (Transform, error) {
	return &tableReport{title: stringOption(v, "title")}, nil
}

func (t *tableReport) TransformData(input *table.Table) (*table.Table, error) {
	return input, nil
}

func (t *tableReport) GetDashboard(output *table.Table) *report.Report {
	names := output.ColumnNames()
	if len(names) == 0 {
		return nil
	}
	rows := make([][]string, 0, output.NumRows())
	for i := 0; i < output.NumRows(); i++ {
		row := make([]string, 0, len(names)+1)
		row = append(row, output.Index()[i].Format("2006-01-02 15:04"))
		for _, name := range names {
			s, _ := output.Column(name)
			row = append(row, cellString(s, i))
		}
		rows = append(rows, row)
	}
	return &report.Report{Tables: []report.Table{{
		Title:   t.title,
		Columns: append([]string{"timestamp"}, names...),
		Rows:    rows,
	}}}
}

// numericCards renders the last value of each input column as a card.
type numericCards struct {
	title string
}

func newNumericCards(v *graph.ValidatedNode) (Transform, error) {
	return &numericCards{title: stringOption(v, "title")}, nil
}

func (t *numericCards) TransformData(input *table.Table) (*table.Table, error) {
	return input, nil
}

func (t *numericCards) GetDashboard(output *table.Table) *report.Report {
	r := &report.Report{}
	for _, name := range output.ColumnNames() {
		s, _ := output.Column(name)
		if s.Kind != metadata.Decimal && s.Kind != metadata.Number {
			continue
		}
		for i := s.Len() - 1; i >= 0; i-- {
			if s.IsNull(i) {
				continue
			}
			r.Cards = append(r.Cards, report.Card{
				Title:    name,
				Value:    s.Floats[i],
				Category: t.title,
			})
			break
		}
	}
	if r.Empty() {
		return nil
	}
	return r
}

// flagMarker turns true rows of its boolean input into chart annotations.
type flagMarker struct {
	nodeID string
	label  string
	color  string
}

func newFlagMarker(v *graph.ValidatedNode) (Transform, error) {
	return &flagMarker{
		nodeID: v.Node.ID,
		label:  stringOption(v, "label"),
		color:  stringOption(v, "color"),
	}, nil
}

func (t *flagMarker) TransformData(input *table.Table) (*table.Table, error) {
	return input, nil
}

func (t *flagMarker) GetEventMarkers(output *table.Table) *report.EventMarkerData {
	s, ok := output.Column(metadata.Arg)
	if !ok || s.Kind != metadata.Boolean {
		return nil
	}
	data := &report.EventMarkerData{NodeID: t.nodeID}
	for i, b := range s.Bools {
		if !b || s.IsNull(i) {
			continue
		}
		data.Markers = append(data.Markers, report.EventMarker{
			Timestamp: output.Index()[i],
			NodeID:    t.nodeID,
			Label:     t.label,
			Color:     t.color,
		})
	}
	if len(data.Markers) == 0 {
		return nil
	}
	return data
}

func stringOption(v *graph.ValidatedNode, key string) string {
	val, ok := v.Node.Options[key]
	if !ok || val.IsNull() {
		return ""
	}
	return val.AsString()
}

func cellString(s *table.Series, i int) string {
	if s.IsNull(i) {
		return ""
	}
	switch s.Kind {
	case metadata.Boolean:
		return strconv.FormatBool(s.Bools[i])
	case metadata.String:
		return s.Strings[i]
	default:
		return fmt.Sprintf("%g", s.Floats[i])
	}
}
