package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wiremaps/snmpbridge/internal/logging"
)

// DefaultReloadDelay coalesces the burst of events an editor produces
// when saving a file.
const DefaultReloadDelay = 250 * time.Millisecond

// Watch reloads the configuration at path whenever it changes and passes
// each valid result to fn. An invalid file is logged and skipped; the
// caller keeps running on its previous configuration. Watch blocks until
// ctx ends.
func Watch(ctx context.Context, path string, delay time.Duration, logger *slog.Logger, fn func(*Config)) error {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	logger = logging.Component(logger, "config")

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file by rename, which drops a watch on the
	// file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("config file event", "file", event.Name, "operation", event.Op.String())
			debounce.Reset(delay)

		case <-debounce.C:
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("config reload rejected", logging.KeyError, err)
				continue
			}
			logger.Info("config reloaded", logging.KeyCount, len(cfg.Targets))
			fn(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("file watcher error", logging.KeyError, err)
		}
	}
}
