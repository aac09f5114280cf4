package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RPCURL == "" {
		t.Fatal("default rpc url empty")
	}
	if cfg.TableInterval() != 2*time.Second {
		t.Fatalf("table interval = %v, want 2s", cfg.TableInterval())
	}
	if cfg.DetailInterval() != time.Second {
		t.Fatalf("detail interval = %v, want 1s", cfg.DetailInterval())
	}
	if cfg.BackoffBase() != 4*time.Second {
		t.Fatalf("backoff base = %v, want 4s", cfg.BackoffBase())
	}
	if cfg.MaxDeltaCycles != 10 {
		t.Fatalf("max delta cycles = %d, want 10", cfg.MaxDeltaCycles)
	}
}

func TestLoadValidFile(t *testing.T) {
	path := writeConfig(t, `{
		"rpc_url": "http://daemon:9091",
		"auth_token": "secret",
		"table_interval_ms": 3000,
		"local_filesystem": true
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RPCURL != "http://daemon:9091" {
		t.Fatalf("rpc url = %q", cfg.RPCURL)
	}
	if cfg.AuthToken != "secret" {
		t.Fatalf("auth token = %q", cfg.AuthToken)
	}
	if cfg.TableInterval() != 3*time.Second {
		t.Fatalf("table interval = %v", cfg.TableInterval())
	}
	if !cfg.LocalFilesystem {
		t.Fatal("local_filesystem not set")
	}
	// Unset fields keep their defaults.
	if cfg.DetailIntervalMs != 1000 {
		t.Fatalf("detail interval = %d, want default 1000", cfg.DetailIntervalMs)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing rpc_url":    `{"table_interval_ms": 2000}`,
		"interval too small": `{"rpc_url": "http://x", "table_interval_ms": 10}`,
		"unknown field":      `{"rpc_url": "http://x", "bogus": true}`,
		"wrong type":         `{"rpc_url": 42}`,
		"not json":           `{rpc_url}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TTSYNC_RPC_URL", "http://override:9091")
	t.Setenv("TTSYNC_AUTH_TOKEN", "env-token")
	t.Setenv("TTSYNC_TABLE_INTERVAL_MS", "5000")
	t.Setenv("TTSYNC_LOCAL_FILESYSTEM", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RPCURL != "http://override:9091" {
		t.Fatalf("rpc url = %q", cfg.RPCURL)
	}
	if cfg.AuthToken != "env-token" {
		t.Fatalf("auth token = %q", cfg.AuthToken)
	}
	if cfg.TableIntervalMs != 5000 {
		t.Fatalf("table interval = %d", cfg.TableIntervalMs)
	}
	if !cfg.LocalFilesystem {
		t.Fatal("local filesystem override ignored")
	}
}

func TestLoadEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("TTSYNC_TABLE_INTERVAL_MS", "not-a-number")
	t.Setenv("TTSYNC_LOCAL_FILESYSTEM", "maybe")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.TableIntervalMs != 2000 {
		t.Fatalf("table interval = %d, want default", cfg.TableIntervalMs)
	}
	if cfg.LocalFilesystem {
		t.Fatal("malformed bool applied")
	}
}
