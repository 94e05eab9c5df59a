package templates

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDelay = 250 * time.Millisecond

// Watch reloads the library whenever a template file in the directory changes, until
// ctx is done. onReload, when set, runs after each reload.
func (l *Library) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	go l.processEvents(ctx, watcher, onReload)

	l.logger.Info().Str("dir", l.dir).Msg("Watching templates")
	return nil
}

func (l *Library) processEvents(ctx context.Context, watcher *fsnotify.Watcher, onReload func()) {
	defer watcher.Close()

	// Editors write in bursts; reload once the burst is over.
	var reload *time.Timer
	defer func() {
		if reload != nil {
			reload.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isTemplateFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Template file changed")

			if reload != nil {
				reload.Stop()
			}
			reload = time.AfterFunc(reloadDelay, func() {
				if ctx.Err() != nil {
					return
				}
				if err := l.Load(); err != nil {
					l.logger.Error().Err(err).Msg("Failed to reload templates")
					return
				}
				if onReload != nil {
					onReload()
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
