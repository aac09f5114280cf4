// Package config loads and validates the sync engine's configuration from a
// JSON file plus TTSYNC_* environment overrides.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaText = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "rpc_url": {"type": "string", "minLength": 1},
    "auth_token": {"type": "string"},
    "table_interval_ms": {"type": "integer", "minimum": 100},
    "detail_interval_ms": {"type": "integer", "minimum": 100},
    "max_delta_cycles": {"type": "integer", "minimum": 1},
    "backoff_base_ms": {"type": "integer", "minimum": 100},
    "watch_download_dirs": {"type": "boolean"},
    "liveness_socket": {"type": "string"},
    "local_filesystem": {"type": "boolean"}
  },
  "required": ["rpc_url"],
  "additionalProperties": false
}`

type Config struct {
	RPCURL           string `json:"rpc_url"`
	AuthToken        string `json:"auth_token,omitempty"`
	TableIntervalMs  int    `json:"table_interval_ms,omitempty"`
	DetailIntervalMs int    `json:"detail_interval_ms,omitempty"`
	MaxDeltaCycles   int    `json:"max_delta_cycles,omitempty"`
	BackoffBaseMs    int    `json:"backoff_base_ms,omitempty"`
	WatchDownloads   bool   `json:"watch_download_dirs,omitempty"`
	LivenessSocket   string `json:"liveness_socket,omitempty"`
	LocalFilesystem  bool   `json:"local_filesystem,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		RPCURL:           "http://127.0.0.1:9091",
		TableIntervalMs:  2000,
		DetailIntervalMs: 1000,
		MaxDeltaCycles:   10,
		BackoffBaseMs:    4000,
	}
}

func (c Config) TableInterval() time.Duration {
	return time.Duration(c.TableIntervalMs) * time.Millisecond
}

func (c Config) DetailInterval() time.Duration {
	return time.Duration(c.DetailIntervalMs) * time.Millisecond
}

func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// Load reads path (optional), validates it against the schema, fills defaults
// and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := validate(raw); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc_url is required")
	}
	return cfg, nil
}

func validate(raw []byte) error {
	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaText))
	if err != nil {
		return fmt.Errorf("parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("ttsync.schema.json", schemaDoc); err != nil {
		return fmt.Errorf("register schema: %w", err)
	}
	schema, err := compiler.Compile("ttsync.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return schema.Validate(instance)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TTSYNC_RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("TTSYNC_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("TTSYNC_LIVENESS_SOCKET"); v != "" {
		cfg.LivenessSocket = v
	}
	if v, ok := envInt("TTSYNC_TABLE_INTERVAL_MS"); ok {
		cfg.TableIntervalMs = v
	}
	if v, ok := envInt("TTSYNC_DETAIL_INTERVAL_MS"); ok {
		cfg.DetailIntervalMs = v
	}
	if v, ok := envInt("TTSYNC_MAX_DELTA_CYCLES"); ok {
		cfg.MaxDeltaCycles = v
	}
	if v, ok := envInt("TTSYNC_BACKOFF_BASE_MS"); ok {
		cfg.BackoffBaseMs = v
	}
	if v, ok := envBool("TTSYNC_WATCH_DOWNLOAD_DIRS"); ok {
		cfg.WatchDownloads = v
	}
	if v, ok := envBool("TTSYNC_LOCAL_FILESYSTEM"); ok {
		cfg.LocalFilesystem = v
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
