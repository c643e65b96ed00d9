// Package app wires the pipeline together: compile the script, optimize
// the graph, load the per-asset bar data, and execute, writing the summary
// and report artifacts to the configured output.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openquant/flowscript/internal/compiler"
	"github.com/openquant/flowscript/internal/cse"
	"github.com/openquant/flowscript/internal/ctxlog"
	"github.com/openquant/flowscript/internal/events"
	"github.com/openquant/flowscript/internal/graph"
	"github.com/openquant/flowscript/internal/metadata"
	"github.com/openquant/flowscript/internal/orchestrator"
	"github.com/openquant/flowscript/internal/transforms"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *metadata.Registry
	factory  *transforms.Factory
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger.
func NewApp(outW io.Writer, config *Config) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, os.Stderr)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:     outW,
		logger:   logger,
		config:   config,
		registry: metadata.Builtin(),
		factory:  transforms.NewFactory(),
	}
}

// Run executes the full pipeline for the configured script.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)

	src, err := os.ReadFile(a.config.ScriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	comp := compiler.New(a.registry, compiler.Options{})
	result, err := comp.Compile(ctx, a.config.ScriptPath, src)
	if err != nil {
		return fmt.Errorf("compilation failed: %w", err)
	}
	a.logger.Info("Script compiled.", "nodes", len(result.Nodes))

	removed := cse.New(a.registry).Optimize(ctx, result)
	a.logger.Info("Graph optimized.", "removed", removed, "remaining", len(result.Nodes))

	manager := graph.NewManager(a.registry)
	for _, n := range result.Nodes {
		if _, err := manager.Insert(n); err != nil {
			return fmt.Errorf("failed to build graph: %w", err)
		}
	}

	input, err := loadInput(ctx, a.config.DataDir, manager)
	if err != nil {
		return fmt.Errorf("failed to load data: %w", err)
	}
	a.logger.Info("Data loaded.", "assets", len(input.Assets))

	dispatcher := events.NewDispatcher()
	unsubscribe := dispatcher.Subscribe(func(ev events.Event) {
		a.logger.Debug("pipeline event", "kind", string(ev.EventKind()))
	}, nil)
	defer unsubscribe()

	orch := orchestrator.New(manager, a.factory, dispatcher, orchestrator.Policy{
		FailFast: a.config.FailFast,
		Workers:  a.config.Workers,
	})
	out, err := orch.Run(ctx, input)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}

	return a.writeResults(out)
}

// writeResults renders the run summary and per-asset artifacts as YAML.
func (a *App) writeResults(out *orchestrator.Output) error {
	doc := map[string]any{
		"summary": map[string]any{
			"run_id":    out.Summary.RunID,
			"duration":  out.Summary.Duration.String(),
			"succeeded": out.Summary.Succeeded,
			"failed":    out.Summary.Failed,
			"skipped":   out.Summary.Skipped,
		},
	}
	if len(out.Summary.Errors) > 0 {
		errs := make([]map[string]string, 0, len(out.Summary.Errors))
		for _, e := range out.Summary.Errors {
			errs = append(errs, map[string]string{
				"node":  e.NodeID,
				"asset": e.AssetID,
				"error": e.Err.Error(),
			})
		}
		doc["errors"] = errs
	}
	if len(out.Reports) > 0 {
		doc["reports"] = out.Reports
	}
	if len(out.Markers) > 0 {
		doc["markers"] = out.Markers
	}
	enc := yaml.NewEncoder(a.outW)
	defer enc.Close()
	return enc.Encode(doc)
}
