package boardconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrInitCreatesDefaults(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	cfg, err := LoadOrInit(home)
	require.NoError(t, err)

	require.Equal(t, DefaultServerURL, cfg.ServerURL)
	require.Equal(t, DefaultDriver, cfg.Backend.Driver)
	require.Equal(t, filepath.Join(home, ".local", "state", "taskboard", "board.db"), cfg.Backend.DSN)
	require.Equal(t, DefaultBoardID, cfg.Backend.BoardID)
	require.Equal(t, DefaultOutput, cfg.Client.Output)
	require.Equal(t, DefaultRole, cfg.Client.Role)
	require.Empty(t, cfg.Client.ViewerID)
	require.Equal(t, filepath.Join(home, ".config", "taskboard", "config.yaml"), ConfigPath(home))

	_, err = os.Stat(ConfigPath(home))
	require.NoError(t, err)
}

func TestLoadOrInitMergesMissingFields(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	path := ConfigPath(home)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`
server_url: http://seed:8080
backend:
  driver: pgx
  dsn: postgres://seed/board
client:
  output: json
  viewer_id: "  u-1  "
  role: moderator
`), 0o644))

	cfg, err := LoadOrInit(home)
	require.NoError(t, err)

	require.Equal(t, "http://seed:8080", cfg.ServerURL)
	require.Equal(t, "pgx", cfg.Backend.Driver)
	require.Equal(t, "postgres://seed/board", cfg.Backend.DSN)
	require.Equal(t, DefaultBoardID, cfg.Backend.BoardID)
	require.Equal(t, "json", cfg.Client.Output)
	require.Equal(t, "u-1", cfg.Client.ViewerID)
	require.Equal(t, "moderator", cfg.Client.Role)
	require.Equal(t, DefaultHeartbeatInterval, cfg.Client.HeartbeatInterval)

	roundTrip, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, cfg, roundTrip)
}

func TestLoadOrInitRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	path := ConfigPath(home)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("server_url: [unclosed"), 0o644))

	_, err := LoadOrInit(home)
	require.Error(t, err)
}

func TestMergeKeepsDefaultsForBlankFields(t *testing.T) {
	t.Parallel()

	defaults := Default("/home/ada")
	user := Config{Client: ClientConfig{RedisURL: "redis://cache:6379/0", Output: "   "}}

	merged := Merge(defaults, user)
	require.Equal(t, "redis://cache:6379/0", merged.Client.RedisURL)
	require.Equal(t, DefaultOutput, merged.Client.Output)
	require.Equal(t, defaults.Backend, merged.Backend)
}
