package config

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow absorbs the editor write-rename-chmod bursts that fsnotify
// reports as separate events.
const debounceWindow = 250 * time.Millisecond

// Watch blocks watching the config file at path and calls apply with each
// successfully re-loaded configuration until ctx is cancelled. The watch is
// on the file's directory, so atomic-rename writers are picked up too.
// A reload that fails to parse or validate is logged and skipped; a write
// that leaves the content unchanged is ignored.
func Watch(ctx context.Context, path string, log *slog.Logger, apply func(*Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	lastHash := hashFile(absPath)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	debounce := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceWindow, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	log.Debug("watching config file", "path", absPath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != absPath {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Chmod) != 0 {
				debounce()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", "error", err)

		case <-fire:
			h := hashFile(absPath)
			if h == lastHash {
				log.Debug("config file content unchanged, skipping reload")
				continue
			}
			cfg, err := Load(absPath)
			if err != nil {
				log.Warn("config reload failed, keeping previous configuration",
					"path", absPath, "error", err)
				continue
			}
			lastHash = h
			log.Info("config reloaded", "path", absPath)
			apply(cfg)
		}
	}
}

// hashFile fingerprints the file content; 0 when unreadable.
func hashFile(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}
