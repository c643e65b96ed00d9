package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ScriptPath string // strategy script file
	DataDir    string // per-timeframe CSV bar files

	LogFormat string
	LogLevel  string
	Workers   int
	FailFast  bool
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ScriptPath == "" {
		return nil, errors.New("ScriptPath is a required configuration field and cannot be empty")
	}
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
