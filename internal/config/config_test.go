package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yaml")
	content := `
sync:
  debounce_ms: 150
  conflict_policy: first-write-wins
match:
  min_forward_matches: 3
server:
  addr: "0.0.0.0:9000"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 150, cfg.Sync.DebounceMs)
	assert.Equal(t, FirstWriteWins, cfg.Sync.ConflictPolicy)
	assert.Equal(t, 3, cfg.Match.MinForwardMatches)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	// untouched values fall back to defaults
	assert.Equal(t, Default().Sync.StalenessMs, cfg.Sync.StalenessMs)
	assert.Equal(t, Default().Watch.PollIntervalMs, cfg.Watch.PollIntervalMs)
}

func TestLoad_InvalidPolicyFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  conflict_policy: coin-flip\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, LastWriteWins, cfg.Sync.ConflictPolicy)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync: [unbalanced"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
