package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreDefaultsToUnitZoom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	s, err := NewStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Equal(t, 1.0, s.ZoomLevel())
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	logger := zaptest.NewLogger(t)

	s, err := NewStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, s.SetZoomLevel(1.5))

	reopened, err := NewStore(path, logger)
	require.NoError(t, err)
	assert.Equal(t, 1.5, reopened.ZoomLevel())
}

func TestStoreRejectsNonPositiveZoom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	s, err := NewStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.Error(t, s.SetZoomLevel(0))
	assert.Error(t, s.SetZoomLevel(-0.5))
	assert.Equal(t, 1.0, s.ZoomLevel())
}

func TestStoreRecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.ZoomLevel())
}

func TestStoreCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "prefs.json")

	s, err := NewStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.SetZoomLevel(2.0))

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
