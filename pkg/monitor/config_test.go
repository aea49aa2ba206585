package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeConfig_Defaults(t *testing.T) {
	got := mergeConfig(nil)
	assert.Equal(t, 70.0, got.Threshold)
	assert.Equal(t, 2*time.Second, got.UpdateInterval)
	assert.Equal(t, 100, got.MaxProcs)
	assert.Equal(t, 100, got.HistoryPoints)
	assert.Equal(t, 5*time.Second, got.CacheTTL)
	assert.Equal(t, 3*time.Minute, got.AvgWindow)
}

func TestMergeConfig_PositiveOverrides(t *testing.T) {
	got := mergeConfig(&Config{Threshold: 85, MaxProcs: 20})
	assert.Equal(t, 85.0, got.Threshold)
	assert.Equal(t, 20, got.MaxProcs)
	assert.Equal(t, 2*time.Second, got.UpdateInterval, "unset fields keep defaults")
}

func TestMergeConfig_IntervalFloor(t *testing.T) {
	got := mergeConfig(&Config{UpdateInterval: 50 * time.Millisecond})
	assert.Equal(t, MinUpdateInterval, got.UpdateInterval)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procwatch.yaml")
	data := []byte("threshold: 80\nupdate_interval: 1s\nmax_procs: 50\ncache_ttl: 10s\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 80.0, cfg.Threshold)
	assert.Equal(t, time.Second, cfg.UpdateInterval)
	assert.Equal(t, 50, cfg.MaxProcs)
	assert.Equal(t, 10*time.Second, cfg.CacheTTL)
	assert.Zero(t, cfg.AvgWindow, "missing keys stay zero until merge")
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "procwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("update_interval: soon\n"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
