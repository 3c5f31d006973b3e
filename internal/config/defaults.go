package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTimeout              = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultDialTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultStabilityWindow      = 5 * time.Second
	DefaultSendQueueLimit       = 512
	DefaultPollInterval         = 5 * time.Second
	DefaultPollRequestTimeout   = 10 * time.Second
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 2 * time.Second
	DefaultBufferSize           = 5000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultHealthPort           = 8080
)

func (c *WatcherConfig) applyDefaults() {
	// Server defaults
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultTimeout
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = DefaultMaxRetries
	}

	// Sync defaults
	if c.Sync.DialTimeout == 0 {
		c.Sync.DialTimeout = DefaultDialTimeout
	}
	if c.Sync.WriteTimeout == 0 {
		c.Sync.WriteTimeout = DefaultWriteTimeout
	}
	if c.Sync.HeartbeatInterval == 0 {
		c.Sync.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Sync.ReconnectBaseDelay == 0 {
		c.Sync.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Sync.ReconnectMaxDelay == 0 {
		c.Sync.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Sync.MaxReconnectAttempts == 0 {
		c.Sync.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Sync.StabilityWindow == 0 {
		c.Sync.StabilityWindow = DefaultStabilityWindow
	}
	if c.Sync.SendQueueLimit == 0 {
		c.Sync.SendQueueLimit = DefaultSendQueueLimit
	}

	// Fallback defaults
	if c.Fallback.PollInterval == 0 {
		c.Fallback.PollInterval = DefaultPollInterval
	}
	if c.Fallback.RequestTimeout == 0 {
		c.Fallback.RequestTimeout = DefaultPollRequestTimeout
	}

	// Recorder defaults
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Database defaults (only meaningful when the recorder is enabled)
	applyDBDefaults(&c.Database.History)

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
