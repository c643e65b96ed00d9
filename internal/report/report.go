// Package report defines the presentation artifacts the pipeline produces:
// per-asset dashboards assembled from reporter nodes, and chart-annotation
// event markers derived from filtered table rows.
package report

import "time"

// Card is a single headline figure on a dashboard.
type Card struct {
	Title    string  `yaml:"title"`
	Value    float64 `yaml:"value"`
	Category string  `yaml:"category,omitempty"`
}

// Table is a rendered tabular artifact.
type Table struct {
	Title   string     `yaml:"title,omitempty"`
	Columns []string   `yaml:"columns"`
	Rows    [][]string `yaml:"rows"`
}

// Chart is a rendered series artifact.
type Chart struct {
	Title  string               `yaml:"title,omitempty"`
	Kind   string               `yaml:"kind"`
	Series map[string][]float64 `yaml:"series"`
}

// Report is one asset's dashboard: the merge of every reporter node's
// contribution.
type Report struct {
	Cards  []Card  `yaml:"cards,omitempty"`
	Tables []Table `yaml:"tables,omitempty"`
	Charts []Chart `yaml:"charts,omitempty"`
}

// Merge appends the other report's collections onto r. Repeated sections
// accumulate rather than overwrite, so several reporter nodes can
// contribute to one asset's dashboard.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.Cards = append(r.Cards, other.Cards...)
	r.Tables = append(r.Tables, other.Tables...)
	r.Charts = append(r.Charts, other.Charts...)
}

// Empty reports whether the report carries no artifacts.
func (r *Report) Empty() bool {
	return len(r.Cards) == 0 && len(r.Tables) == 0 && len(r.Charts) == 0
}

// EventMarker is one chart annotation.
type EventMarker struct {
	Timestamp time.Time `yaml:"timestamp"`
	NodeID    string    `yaml:"node_id"`
	Label     string    `yaml:"label,omitempty"`
	Color     string    `yaml:"color,omitempty"`
}

// EventMarkerData is a node's marker contribution for one asset.
type EventMarkerData struct {
	NodeID  string        `yaml:"node_id"`
	Markers []EventMarker `yaml:"markers"`
}
