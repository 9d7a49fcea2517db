package cli

import (
	"github.com/rs/zerolog"

	"github.com/code-o-holic/ai-toolkit-telemetry/internal/config"
)

// Shared services, set during app initialization in internal/app.go.
var (
	Cfg *config.Config
	Log zerolog.Logger
)
