package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ConsoleOptions struct {
	Timestamp bool
	NoColor   bool
}

// NewConsoleLogger builds the human-readable logger used by every meetlink binary.
func NewConsoleLogger(out io.Writer, opts ConsoleOptions) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    opts.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !opts.Timestamp {
		output.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// InitLogger installs an app-tagged console logger as the global logger.
func InitLogger(app string) zerolog.Logger {
	logger := NewConsoleLogger(os.Stdout, ConsoleOptions{Timestamp: true}).
		With().
		Str("app", app).
		Logger()
	log.Logger = logger
	return logger
}
