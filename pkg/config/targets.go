package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type targetsFile struct {
	Targets []artifact.RepositoryTarget `yaml:"targets"`
}

// ParseTargets decodes a targets document and validates every entry.
func ParseTargets(data []byte) ([]artifact.RepositoryTarget, error) {
	var doc targetsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	for i := range doc.Targets {
		if doc.Targets[i].Priority == "" {
			doc.Targets[i].Priority = artifact.PriorityMedium
		}
		if err := doc.Targets[i].Validate(); err != nil {
			return nil, fmt.Errorf("target %d: %w", i, err)
		}
	}
	return doc.Targets, nil
}

// LoadTargets reads and parses a targets file.
func LoadTargets(path string) ([]artifact.RepositoryTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTargets(data)
}

// WatchTargets calls onChange with the parsed file whenever it is written.
// The parent directory is watched so editors that replace the file are seen.
// Parse errors are logged and the previous contents stay in effect. Blocks
// until ctx is cancelled.
func WatchTargets(ctx context.Context, path string, logger *slog.Logger, onChange func([]artifact.RepositoryTarget)) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	// Coalesce bursts of events from a single save.
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			debounce = time.After(100 * time.Millisecond)
		case <-debounce:
			debounce = nil
			targets, err := LoadTargets(abs)
			if err != nil {
				logger.Warn("Targets file reload failed", "path", abs, "error", err)
				continue
			}
			logger.Info("Targets file reloaded", "path", abs, "targets", len(targets))
			onChange(targets)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Targets watcher error", "error", err)
		}
	}
}
