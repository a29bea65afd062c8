package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mnemo-mcp/mnemo/internal/logger"
)

var log = logger.ForComponent("config")

const debounceWindow = 300 * time.Millisecond

// Watch re-reads the config file whenever it changes and calls onReload
// with the fresh config. Editors tend to emit bursts of write events, so
// reloads are debounced. Returns immediately when the config has no file.
func Watch(ctx context.Context, cfg *Config, onReload func(*Config)) error {
	if cfg.ConfigPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(cfg.ConfigPath); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var mu sync.Mutex
		var timer *time.Timer

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceWindow, func() {
					fresh, err := Load()
					if err != nil {
						log.Warn("config reload failed", "error", err)
						return
					}
					onReload(fresh)
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", err)
			}
		}
	}()

	return nil
}
