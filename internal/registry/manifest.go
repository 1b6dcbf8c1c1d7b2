package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manifest is the optional models.yaml file: model entries to register and
// an initial weight set.
type Manifest struct {
	Models  []ModelEntry `yaml:"models"`
	Weights *WeightSet   `yaml:"weights"`
}

// LoadManifest parses a models.yaml file
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &m, nil
}

// Apply activates every active-status model in the manifest and, when the
// manifest carries weights, publishes them as a new version. A partial
// failure stops at the first bad entry; already-applied entries stay applied.
func (r *Registry) Apply(m *Manifest) error {
	for _, entry := range m.Models {
		if entry.Status != StatusActive {
			continue
		}
		if err := r.ActivateModel(entry); err != nil {
			return err
		}
	}
	if m.Weights != nil {
		if _, err := r.PutWeights(*m.Weights); err != nil {
			return err
		}
	}
	return nil
}

// Watch reloads the manifest whenever the file changes. Setup errors are
// returned; the watch itself runs in the background until ctx is done.
// Malformed reloads are logged and skipped; the previous snapshot stays
// active.
func (r *Registry) Watch(ctx context.Context, path string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops a
	// watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("manifest watcher add: %w", err)
	}

	go r.watchLoop(ctx, watcher, path, logger)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, logger *zap.Logger) {
	defer watcher.Close()

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			m, err := LoadManifest(path)
			if err != nil {
				logger.Warn("Manifest reload failed, keeping previous snapshot",
					zap.String("path", path), zap.Error(err))
				continue
			}
			if err := r.Apply(m); err != nil {
				logger.Warn("Manifest apply failed, keeping previous snapshot",
					zap.String("path", path), zap.Error(err))
				continue
			}
			logger.Info("Manifest reloaded", zap.String("path", path))
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Manifest watcher error", zap.Error(err))
		}
	}
}
