package config

import "time"

// WatcherConfig is the root configuration for a dashwatch instance.
type WatcherConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Sync     SyncConfig     `yaml:"sync"`
	Fallback FallbackConfig `yaml:"fallback"`
	Recorder RecorderConfig `yaml:"recorder"`
	Database DatabaseConfig `yaml:"database"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this watcher.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds dashboard server settings.
type ServerConfig struct {
	WSURL      string        `yaml:"ws_url"`   // Push channel (e.g., wss://forge.local/ws)
	RestURL    string        `yaml:"rest_url"` // Snapshot endpoint base URL
	APIToken   string        `yaml:"api_token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// SyncConfig holds the realtime channel settings.
type SyncConfig struct {
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	StabilityWindow      time.Duration `yaml:"stability_window"`
	SendQueueLimit       int           `yaml:"send_queue_limit"`
}

// FallbackConfig holds degraded-mode polling settings.
type FallbackConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// RecorderConfig holds history recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the history database connection.
type DatabaseConfig struct {
	History DBConfig `yaml:"history"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the local health endpoint settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}
