// Package boardconfig reads and writes the yaml file shared by the taskboard
// server and CLI.
package boardconfig

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL         = "http://127.0.0.1:8080"
	DefaultOutput            = "text"
	DefaultDriver            = "sqlite"
	DefaultBoardID           = "main"
	DefaultBoardName         = "Board"
	DefaultRole              = "default"
	DefaultReconcileInterval = "5s"
	DefaultHeartbeatInterval = "30s"
)

type Config struct {
	ServerURL string        `yaml:"server_url"`
	Backend   BackendConfig `yaml:"backend"`
	Client    ClientConfig  `yaml:"client"`
}

type BackendConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	BoardID   string `yaml:"board_id"`
	BoardName string `yaml:"board_name"`
}

type ClientConfig struct {
	Output            string `yaml:"output"`
	ViewerID          string `yaml:"viewer_id"`
	ViewerName        string `yaml:"viewer_name"`
	Role              string `yaml:"role"`
	CachePath         string `yaml:"cache_path"`
	RedisURL          string `yaml:"redis_url"`
	ReconcileInterval string `yaml:"reconcile_interval"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
}

func Default(home string) Config {
	stateDir := filepath.Join(home, ".local", "state", "taskboard")

	return Config{
		ServerURL: DefaultServerURL,
		Backend: BackendConfig{
			Driver:    DefaultDriver,
			DSN:       filepath.Join(stateDir, "board.db"),
			BoardID:   DefaultBoardID,
			BoardName: DefaultBoardName,
		},
		Client: ClientConfig{
			Output:            DefaultOutput,
			Role:              DefaultRole,
			CachePath:         filepath.Join(stateDir, "cache"),
			ReconcileInterval: DefaultReconcileInterval,
			HeartbeatInterval: DefaultHeartbeatInterval,
		},
	}
}

func ConfigPath(home string) string {
	return filepath.Join(home, ".config", "taskboard", "config.yaml")
}

// LoadOrInit reads the config file under home, writing defaults for any
// field that is missing.
func LoadOrInit(home string) (Config, error) {
	path := ConfigPath(home)
	defaults := Default(home)

	cfg, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := SaveFile(path, defaults); err != nil {
				return Config{}, err
			}
			return defaults, nil
		}
		return Config{}, err
	}

	merged := Merge(defaults, cfg)
	if merged != cfg {
		if err := SaveFile(path, merged); err != nil {
			return Config{}, err
		}
	}

	return merged, nil
}

func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	return normalize(cfg), nil
}

func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(normalize(cfg))
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Merge overlays the non-empty fields of user onto defaults.
func Merge(defaults Config, user Config) Config {
	out := normalize(defaults)
	in := normalize(user)

	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}

	set(&out.ServerURL, in.ServerURL)

	set(&out.Backend.Driver, in.Backend.Driver)
	set(&out.Backend.DSN, in.Backend.DSN)
	set(&out.Backend.BoardID, in.Backend.BoardID)
	set(&out.Backend.BoardName, in.Backend.BoardName)

	set(&out.Client.Output, in.Client.Output)
	set(&out.Client.ViewerID, in.Client.ViewerID)
	set(&out.Client.ViewerName, in.Client.ViewerName)
	set(&out.Client.Role, in.Client.Role)
	set(&out.Client.CachePath, in.Client.CachePath)
	set(&out.Client.RedisURL, in.Client.RedisURL)
	set(&out.Client.ReconcileInterval, in.Client.ReconcileInterval)
	set(&out.Client.HeartbeatInterval, in.Client.HeartbeatInterval)

	return out
}

func normalize(cfg Config) Config {
	for _, field := range []*string{
		&cfg.ServerURL,
		&cfg.Backend.Driver,
		&cfg.Backend.DSN,
		&cfg.Backend.BoardID,
		&cfg.Backend.BoardName,
		&cfg.Client.Output,
		&cfg.Client.ViewerID,
		&cfg.Client.ViewerName,
		&cfg.Client.Role,
		&cfg.Client.CachePath,
		&cfg.Client.RedisURL,
		&cfg.Client.ReconcileInterval,
		&cfg.Client.HeartbeatInterval,
	} {
		*field = strings.TrimSpace(*field)
	}
	return cfg
}
