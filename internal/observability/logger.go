package observability

import (
	"github.com/danmuck/flowscore/internal/logging"
	"github.com/rs/zerolog"
)

// InitLogger returns the shared logger tagged with app.
func InitLogger(app string) zerolog.Logger {
	return logging.Logger().With().Str("app", app).Logger()
}
