package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSaneTimeouts(t *testing.T) {
	cfg := Default()
	require.Equal(t, 30000, cfg.Hypertable.Request.Timeout)
	require.Equal(t, 0.5, cfg.Hypertable.Failover.Quorum.Percentage)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rangemaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
Hypertable:
  Request:
    Timeout: 5000
  Failover:
    Quorum:
      Percentage: 0.9
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Hypertable.Request.Timeout)
	require.Equal(t, 0.9, cfg.Hypertable.Failover.Quorum.Percentage)
	// Untouched defaults survive the merge.
	require.Equal(t, 0.90, cfg.Hypertable.Master.DiskThreshold.Percentage)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	require.Error(t, err)
}
