package charterfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/canopy/pkg/ports"
)

// Read parses the manifest at path.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read charter file: %w", err)
	}
	return Parse(data)
}

// Parse decodes manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse charter file: %w", err)
	}
	var m Manifest
	if err := Decode(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid charter file: %w", err)
	}
	return &m, nil
}

// Loader implements ports.DefinitionLoader and ports.Watchable over a
// manifest file.
type Loader struct {
	Path string
	// Debounce groups bursts of writes into one event.
	Debounce time.Duration
}

// New creates a loader for the manifest at path.
func New(path string) *Loader {
	return &Loader{Path: path, Debounce: 100 * time.Millisecond}
}

// Load implements ports.DefinitionLoader.
func (l *Loader) Load(ctx context.Context) (*ports.Definitions, error) {
	m, err := Read(l.Path)
	if err != nil {
		return nil, err
	}
	return m.Definitions()
}

// Manifest reads the manifest without converting it.
func (l *Loader) Manifest() (*Manifest, error) {
	return Read(l.Path)
}

// Watch implements ports.Watchable. It watches the manifest's directory,
// since editors often replace files instead of writing them, and sends the
// manifest path after each settled change.
func (l *Loader) Watch(ctx context.Context) (<-chan string, error) {
	abs, err := filepath.Abs(l.Path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != abs || evt.Op == fsnotify.Chmod {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(l.Debounce)
				} else {
					timer.Reset(l.Debounce)
				}
				fire = timer.C
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-fire:
				fire = nil
				select {
				case ch <- l.Path:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}
