// ABOUTME: Global zerolog setup shared by the relay and player binaries
// ABOUTME: Writes to a log file, plus the console unless a TUI owns the terminal
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls Setup
type Options struct {
	File    string // empty disables file logging
	Console bool
	Debug   bool
}

// Setup configures the global logger. The returned closer flushes the log file.
func Setup(opts Options) (io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}

	if opts.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
