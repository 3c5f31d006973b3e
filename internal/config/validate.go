package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *WatcherConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	if !strings.HasPrefix(c.Server.WSURL, "ws://") && !strings.HasPrefix(c.Server.WSURL, "wss://") {
		return fmt.Errorf("server.ws_url must be a ws:// or wss:// URL, got %q", c.Server.WSURL)
	}
	if c.Server.RestURL == "" {
		return errors.New("server.rest_url is required")
	}

	if c.Sync.MaxReconnectAttempts < 1 {
		return errors.New("sync.max_reconnect_attempts must be >= 1")
	}
	if c.Sync.ReconnectBaseDelay > c.Sync.ReconnectMaxDelay {
		return fmt.Errorf("sync.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Sync.ReconnectBaseDelay, c.Sync.ReconnectMaxDelay)
	}
	if c.Sync.SendQueueLimit < 1 {
		return errors.New("sync.send_queue_limit must be >= 1")
	}

	if c.Fallback.PollInterval <= 0 {
		return errors.New("fallback.poll_interval must be > 0")
	}

	if c.Recorder.Enabled {
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
		if err := c.Database.History.validate("database.history"); err != nil {
			return err
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
