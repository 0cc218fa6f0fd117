package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads the settings file at path whenever it changes and passes the
// decoded settings to fn. It blocks until ctx is done. The parent directory is
// watched since editors usually save by renaming a temporary file over the
// original.
func Watch(ctx context.Context, path string, debounce time.Duration, logger *log.Logger, fn func(Settings)) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)

	reload := func() {
		timer, timerC = nil, nil

		s, err := LoadFile(path)
		if err != nil {
			logger.Printf("unable to reload %s: %s\n", path, err)
			return
		}
		fn(s)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case <-timerC:
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("config watcher error: %s\n", err)
		}
	}
}
