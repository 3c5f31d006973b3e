package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const validConfig = `
instance:
  id: watcher-1
server:
  ws_url: wss://forge.local/ws
  rest_url: https://forge.local
  api_token: test-token
sync:
  heartbeat_interval: 15s
fallback:
  poll_interval: 3s
health:
  port: 9090
`

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Instance.ID != "watcher-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "watcher-1")
	}
	if cfg.Server.WSURL != "wss://forge.local/ws" {
		t.Errorf("Server.WSURL = %q, want %q", cfg.Server.WSURL, "wss://forge.local/ws")
	}
	if cfg.Sync.HeartbeatInterval != 15*time.Second {
		t.Errorf("Sync.HeartbeatInterval = %v, want 15s", cfg.Sync.HeartbeatInterval)
	}
	if cfg.Fallback.PollInterval != 3*time.Second {
		t.Errorf("Fallback.PollInterval = %v, want 3s", cfg.Fallback.PollInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "instance: [not: closed")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for invalid yaml, got nil")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("FORGE_API_TOKEN", "secret-from-env")

	path := writeTempConfig(t, `
instance:
  id: watcher-1
server:
  ws_url: wss://forge.local/ws
  rest_url: https://forge.local
  api_token: ${FORGE_API_TOKEN}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.APIToken != "secret-from-env" {
		t.Errorf("Server.APIToken = %q, want %q", cfg.Server.APIToken, "secret-from-env")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempConfig(t, validConfig)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults() error = %v", err)
	}

	// Explicit values survive
	if cfg.Sync.HeartbeatInterval != 15*time.Second {
		t.Errorf("Sync.HeartbeatInterval = %v, want 15s", cfg.Sync.HeartbeatInterval)
	}
	if cfg.Health.Port != 9090 {
		t.Errorf("Health.Port = %d, want 9090", cfg.Health.Port)
	}

	// Unset values get defaults
	if cfg.Sync.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("Sync.ReconnectBaseDelay = %v, want %v", cfg.Sync.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Sync.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Sync.MaxReconnectAttempts = %d, want %d", cfg.Sync.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Sync.SendQueueLimit != DefaultSendQueueLimit {
		t.Errorf("Sync.SendQueueLimit = %d, want %d", cfg.Sync.SendQueueLimit, DefaultSendQueueLimit)
	}
	if cfg.Recorder.BatchSize != DefaultBatchSize {
		t.Errorf("Recorder.BatchSize = %d, want %d", cfg.Recorder.BatchSize, DefaultBatchSize)
	}
	if cfg.Database.History.SSLMode != DefaultDBSSLMode {
		t.Errorf("Database.History.SSLMode = %q, want %q", cfg.Database.History.SSLMode, DefaultDBSSLMode)
	}
}

func TestValidate(t *testing.T) {
	base := func() *WatcherConfig {
		cfg := &WatcherConfig{}
		cfg.Instance.ID = "watcher-1"
		cfg.Server.WSURL = "wss://forge.local/ws"
		cfg.Server.RestURL = "https://forge.local"
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*WatcherConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *WatcherConfig) {},
		},
		{
			name:    "missing instance id",
			mutate:  func(c *WatcherConfig) { c.Instance.ID = "" },
			wantErr: "instance.id",
		},
		{
			name:    "missing ws url",
			mutate:  func(c *WatcherConfig) { c.Server.WSURL = "" },
			wantErr: "server.ws_url",
		},
		{
			name:    "ws url wrong scheme",
			mutate:  func(c *WatcherConfig) { c.Server.WSURL = "https://forge.local/ws" },
			wantErr: "ws:// or wss://",
		},
		{
			name:    "missing rest url",
			mutate:  func(c *WatcherConfig) { c.Server.RestURL = "" },
			wantErr: "server.rest_url",
		},
		{
			name: "base delay exceeds max delay",
			mutate: func(c *WatcherConfig) {
				c.Sync.ReconnectBaseDelay = time.Minute
				c.Sync.ReconnectMaxDelay = time.Second
			},
			wantErr: "reconnect_base_delay",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *WatcherConfig) { c.Fallback.PollInterval = 0 },
			wantErr: "fallback.poll_interval",
		},
		{
			name:    "bad health port",
			mutate:  func(c *WatcherConfig) { c.Health.Port = 70000 },
			wantErr: "health.port",
		},
		{
			name: "recorder enabled without db host",
			mutate: func(c *WatcherConfig) {
				c.Recorder.Enabled = true
				c.Database.History.Name = "forge_history"
				c.Database.History.User = "forge"
				c.Database.History.Password = "pw"
			},
			wantErr: "database.history.host",
		},
		{
			name: "recorder disabled skips db validation",
			mutate: func(c *WatcherConfig) {
				c.Recorder.Enabled = false
				c.Database.History = DBConfig{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}
