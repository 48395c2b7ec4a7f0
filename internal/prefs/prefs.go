// Package prefs persists user display preferences between runs.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const defaultZoom = 1.0

// preferences is the on-disk document.
type preferences struct {
	ZoomLevel float64 `json:"zoom_level"`
}

// Store keeps preferences in a single JSON file. Writes go through a
// temp file plus rename so a crash never leaves a half-written file.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	prefs preferences
}

// NewStore loads preferences from path, falling back to defaults when the
// file does not exist yet or cannot be parsed.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("prefs: empty path")
	}

	s := &Store{
		path:   path,
		logger: logger,
		prefs:  preferences{ZoomLevel: defaultZoom},
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Первый запуск, файла еще нет.
	case err != nil:
		return nil, fmt.Errorf("prefs: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(raw, &s.prefs); err != nil {
			logger.Warn("preferences file is corrupt, using defaults",
				zap.String("path", path),
				zap.Error(err),
			)
			s.prefs = preferences{ZoomLevel: defaultZoom}
		}
	}

	if s.prefs.ZoomLevel <= 0 {
		s.prefs.ZoomLevel = defaultZoom
	}
	return s, nil
}

// ZoomLevel returns the persisted zoom, 1.0 when never set.
func (s *Store) ZoomLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.ZoomLevel
}

// SetZoomLevel stores a new zoom level and flushes it to disk.
func (s *Store) SetZoomLevel(zoom float64) error {
	if zoom <= 0 {
		return fmt.Errorf("prefs: zoom level must be positive, got %v", zoom)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs.ZoomLevel = zoom
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	raw, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prefs: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".prefs-*.json")
	if err != nil {
		return fmt.Errorf("prefs: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("prefs: close: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("prefs: rename: %w", err)
	}
	return nil
}
