// ABOUTME: Tests for logger setup
// ABOUTME: Tests file output and level selection
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetupWritesToFile(t *testing.T) {
	defer func(l zerolog.Logger, lvl zerolog.Level) {
		log.Logger = l
		zerolog.SetGlobalLevel(lvl)
	}(log.Logger, zerolog.GlobalLevel())

	path := filepath.Join(t.TempDir(), "zync.log")
	closer, err := Setup(Options{File: path, Debug: true})
	if err != nil {
		t.Fatal(err)
	}

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %v", zerolog.GlobalLevel())
	}

	log.Debug().Str("client", "abc").Msg("hello from test")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"client":"abc"`) || !strings.Contains(string(data), "hello from test") {
		t.Errorf("expected structured entry in log file, got %q", data)
	}
}

func TestSetupBadPath(t *testing.T) {
	_, err := Setup(Options{File: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	if err == nil {
		t.Error("expected error for unwritable path")
	}
}
