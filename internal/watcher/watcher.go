package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultSettle is how long a new file is left alone before processing
const DefaultSettle = 500 * time.Millisecond

// Handler processes one new video file
type Handler func(ctx context.Context, path string) error

var videoExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm", ".m4v", ".flv"}

// Watcher feeds new video files in a directory to a handler, one at a time
type Watcher struct {
	logger  zerolog.Logger
	dir     string
	handler Handler
	settle  time.Duration
	watcher *fsnotify.Watcher
	queue   chan string
}

// New watches dir. settle <= 0 uses DefaultSettle.
func New(logger zerolog.Logger, dir string, handler Handler, settle time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	if settle <= 0 {
		settle = DefaultSettle
	}

	return &Watcher{
		logger:  logger.With().Str("component", "watcher").Str("dir", dir).Logger(),
		dir:     dir,
		handler: handler,
		settle:  settle,
		watcher: fw,
		queue:   make(chan string, 64),
	}, nil
}

// Start blocks until ctx is done, processing files as they appear. The file
// being processed when ctx ends is allowed to finish.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info().Strs("formats", videoExtensions).Msg("file watcher started")

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.work(ctx)
	}()
	defer func() {
		w.logger.Info().Msg("waiting for ongoing processing to complete")
		<-done
		w.logger.Info().Msg("file watcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !IsVideoFile(event.Name) {
				w.logger.Debug().Str("file", event.Name).Msg("ignoring non-video file")
				continue
			}
			w.logger.Info().Str("file", event.Name).Msg("new video detected")
			select {
			case w.queue <- event.Name:
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.queue:
			// let the writer finish before the file is probed
			select {
			case <-time.After(w.settle):
			case <-ctx.Done():
				return
			}
			if err := w.handler(ctx, path); err != nil {
				w.logger.Error().Err(err).Str("file", path).Msg("failed to process file")
			}
		}
	}
}

// Stop closes the underlying watcher
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// IsVideoFile reports whether path has a supported video extension
func IsVideoFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range videoExtensions {
		if ext == format {
			return true
		}
	}
	return false
}
