package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/pkg/config"
)

// NewLogger creates a structured zerolog.Logger writing to stdout, or to the
// configured log file when one is set. The returned closer releases the file.
func NewLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	var w io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closer = f
	}

	return New(w, cfg.LogLevel), closer, nil
}

// New builds the service logger on w. Unknown levels fall back to info.
func New(w io.Writer, logLevel string) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Str("service", "vaultkeep").Logger()

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil || logLevel == "" {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
