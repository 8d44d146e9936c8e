// ABOUTME: Preloads the relay's track from disk and reloads it on change
// ABOUTME: Watches the file's directory with fsnotify and debounces bursts of writes
package server

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Vimlesh-Kumar/zync/internal/coordinator"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 500 * time.Millisecond

// TrackLoader accepts a replacement track
type TrackLoader interface {
	LoadTrack(t coordinator.Track) error
}

// Library keeps one on-disk file loaded as the current track
type Library struct {
	path   string
	loader TrackLoader
	clock  clockwork.Clock
}

// NewLibrary creates a library for path
func NewLibrary(path string, loader TrackLoader, clock clockwork.Clock) *Library {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Library{path: path, loader: loader, clock: clock}
}

// ReadTrack reads path into a Track, guessing the MIME type from the
// extension and falling back to content sniffing
func ReadTrack(path string) (coordinator.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return coordinator.Track{}, fmt.Errorf("failed to read track: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	return coordinator.Track{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// Load reads the file and hands it to the loader
func (l *Library) Load() error {
	track, err := ReadTrack(l.path)
	if err != nil {
		return err
	}
	if err := l.loader.LoadTrack(track); err != nil {
		return fmt.Errorf("failed to load track: %w", err)
	}
	log.Info().Str("path", l.path).Str("type", track.MimeType).Int("bytes", len(track.Data)).Msg("track preloaded")
	return nil
}

// Watch reloads the track after it changes on disk until ctx is done. The
// directory is watched so editors that replace the file are seen.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", l.path, err)
	}

	target := filepath.Clean(l.path)
	var pending clockwork.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = l.clock.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			if err := l.Load(); err != nil {
				log.Warn().Err(err).Str("path", l.path).Msg("track reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("track watcher error")
		}
	}
}
