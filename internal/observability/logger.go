package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns the global logger tagged with the owning component.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
