// Package internal wires the aitel components together: configuration,
// diagnostics logging, and the CLI layer.
package internal

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/cli"
	"github.com/code-o-holic/ai-toolkit-telemetry/internal/config"
)

// App holds the shared services behind the CLI commands.
type App struct {
	BasePath string
	Config   *config.Config
	Log      zerolog.Logger
}

// NewApp loads configuration from basePath and hands the shared services to
// the CLI layer.
func NewApp(basePath string) (*App, error) {
	cfg, err := config.Load(basePath)
	if err != nil {
		return nil, fmt.Errorf("initializing aitel: %w", err)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	app := &App{BasePath: basePath, Config: cfg, Log: log}
	cli.Cfg = cfg
	cli.Log = log
	return app, nil
}

// ResolveBasePath picks the directory the config file is loaded from: an
// explicit AITEL_HOME wins, otherwise the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("AITEL_HOME"); home != "" {
		return home
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
