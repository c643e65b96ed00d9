package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openquant/flowscript/internal/ctxlog"
	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/orchestrator"
	"github.com/openquant/flowscript/internal/table"
)

// loadInput materializes the per-(timeframe, asset) bar tables the graph
// needs. The data directory holds one subdirectory per timeframe, each
// containing <TICKER>.csv files with timestamp,o,h,l,c,v rows.
func loadInput(ctx context.Context, dataDir string, manager *graph.Manager) (*orchestrator.Input, error) {
	log := ctxlog.FromContext(ctx)

	needed := make(map[string]bool)
	for _, v := range manager.Ordered() {
		if v.Meta.IsScalar() {
			continue
		}
		needed[v.TimeFrame().String()] = true
	}

	in := &orchestrator.Input{Tables: make(map[string]map[string]*table.Table)}
	seen := make(map[string]bool)

	for tf := range needed {
		dir := filepath.Join(dataDir, tf)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("no data for timeframe %s: %w", tf, err)
		}
		in.Tables[tf] = make(map[string]*table.Table)
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
				continue
			}
			ticker := strings.TrimSuffix(entry.Name(), ".csv")
			t, err := loadBars(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("asset %s (%s): %w", ticker, tf, err)
			}
			in.Tables[tf][ticker] = t
			if !seen[ticker] {
				seen[ticker] = true
				in.Assets = append(in.Assets, orchestrator.Asset{ID: ticker, Ticker: ticker})
			}
			log.Debug("bars loaded", "asset", ticker, "timeframe", tf, "rows", t.NumRows())
		}
	}
	if len(in.Assets) == 0 {
		return nil, fmt.Errorf("no assets found under %s", dataDir)
	}
	return in, nil
}

// loadBars reads one CSV bar file into a table with o/h/l/c/v columns.
func loadBars(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no data rows")
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"timestamp", "o", "h", "l", "c", "v"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	rows := records[1:]
	index := make([]time.Time, 0, len(rows))
	series := map[string][]float64{
		"o": make([]float64, 0, len(rows)),
		"h": make([]float64, 0, len(rows)),
		"l": make([]float64, 0, len(rows)),
		"c": make([]float64, 0, len(rows)),
		"v": make([]float64, 0, len(rows)),
	}
	for i, row := range rows {
		ts, err := parseTimestamp(row[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		index = append(index, ts)
		for name := range series {
			f, err := strconv.ParseFloat(strings.TrimSpace(row[col[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %q: %w", i+2, name, err)
			}
			series[name] = append(series[name], f)
		}
	}

	t := table.New(index)
	for _, name := range []string{"o", "h", "l", "c", "v"} {
		if err := t.AddColumn(name, table.NewFloatSeries(series[name])); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}
