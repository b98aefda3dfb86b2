package taskboard

import (
	"strings"
	"time"

	"github.com/simonjohansson/taskboard/pkg/boardconfig"
)

// Config is the merged view of the shared config file, the environment and
// the global flags.
type Config struct {
	ServerURL string
	Output    Output

	Driver    string
	DSN       string
	BoardID   string
	BoardName string

	ViewerID   string
	ViewerName string
	Role       string

	CachePath         string
	RedisURL          string
	ReconcileInterval time.Duration
	HeartbeatInterval time.Duration
}

const envPrefix = "TASKBOARD_"

func DefaultConfig(home string) Config {
	return mapSharedToCLI(boardconfig.Default(home))
}

// ParseEnvConfig picks TASKBOARD_* variables out of env. Invalid values are
// ignored.
func ParseEnvConfig(env []string) Config {
	cfg := Config{}

	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimPrefix(key, envPrefix) {
		case "SERVER_URL":
			cfg.ServerURL = value
		case "OUTPUT":
			if isValidOutput(value) {
				cfg.Output = Output(value)
			}
		case "DRIVER":
			cfg.Driver = value
		case "DSN":
			cfg.DSN = value
		case "BOARD":
			cfg.BoardID = value
		case "BOARD_NAME":
			cfg.BoardName = value
		case "VIEWER_ID":
			cfg.ViewerID = value
		case "VIEWER_NAME":
			cfg.ViewerName = value
		case "ROLE":
			cfg.Role = value
		case "CACHE_PATH":
			cfg.CachePath = value
		case "REDIS_URL":
			cfg.RedisURL = value
		case "RECONCILE_INTERVAL":
			cfg.ReconcileInterval = parseInterval(value)
		case "HEARTBEAT_INTERVAL":
			cfg.HeartbeatInterval = parseInterval(value)
		}
	}

	return cfg
}

func MergeConfig(defaults, fileCfg, envCfg, flagCfg Config) Config {
	out := defaults
	applyConfig(&out, fileCfg)
	applyConfig(&out, envCfg)
	applyConfig(&out, flagCfg)
	return out
}

func applyConfig(dst *Config, src Config) {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&dst.ServerURL, src.ServerURL},
		{&dst.Driver, src.Driver},
		{&dst.DSN, src.DSN},
		{&dst.BoardID, src.BoardID},
		{&dst.BoardName, src.BoardName},
		{&dst.ViewerID, src.ViewerID},
		{&dst.ViewerName, src.ViewerName},
		{&dst.Role, src.Role},
		{&dst.CachePath, src.CachePath},
		{&dst.RedisURL, src.RedisURL},
	} {
		if value := strings.TrimSpace(f.src); value != "" {
			*f.dst = value
		}
	}
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.ReconcileInterval > 0 {
		dst.ReconcileInterval = src.ReconcileInterval
	}
	if src.HeartbeatInterval > 0 {
		dst.HeartbeatInterval = src.HeartbeatInterval
	}
}

func LoadOrInitConfig(home string) (Config, error) {
	shared, err := boardconfig.LoadOrInit(home)
	if err != nil {
		return Config{}, err
	}
	return mapSharedToCLI(shared), nil
}

func ConfigPath(home string) string {
	return boardconfig.ConfigPath(home)
}

func mapSharedToCLI(shared boardconfig.Config) Config {
	cfg := Config{
		ServerURL:         shared.ServerURL,
		Output:            Output(shared.Client.Output),
		Driver:            shared.Backend.Driver,
		DSN:               shared.Backend.DSN,
		BoardID:           shared.Backend.BoardID,
		BoardName:         shared.Backend.BoardName,
		ViewerID:          shared.Client.ViewerID,
		ViewerName:        shared.Client.ViewerName,
		Role:              shared.Client.Role,
		CachePath:         shared.Client.CachePath,
		RedisURL:          shared.Client.RedisURL,
		ReconcileInterval: parseInterval(shared.Client.ReconcileInterval),
		HeartbeatInterval: parseInterval(shared.Client.HeartbeatInterval),
	}
	if cfg.Output != "" && !isValidOutput(string(cfg.Output)) {
		cfg.Output = ""
	}
	return cfg
}

// parseInterval returns 0 for anything that is not a positive duration.
func parseInterval(raw string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
