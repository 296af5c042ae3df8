package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateQueues(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.ArtifactDir) == "" {
		return errors.New("paths.artifact_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	return nil
}

func (c *Config) validateQueues() error {
	if c.Queues.StatsCacheTTL < 0 {
		return errors.New("queues.stats_cache_ttl must not be negative")
	}
	if c.Queues.BacklogWarning <= 0 {
		return errors.New("queues.backlog_warning must be positive")
	}
	if c.Queues.BacklogCritical < c.Queues.BacklogWarning {
		return errors.New("queues.backlog_critical must not be below queues.backlog_warning")
	}
	if c.Queues.StaleClaimAge <= 0 {
		return errors.New("queues.stale_claim_age must be positive")
	}
	if c.Queues.MaxAttempts <= 0 {
		return errors.New("queues.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxAttempts <= 0 {
		return errors.New("upload.max_attempts must be positive")
	}
	if c.Upload.RetryDelay < 0 {
		return errors.New("upload.retry_delay must not be negative")
	}
	if c.Upload.StaggerSeconds < 0 {
		return errors.New("upload.stagger_seconds must not be negative")
	}
	if c.Upload.PauseSeconds < 0 {
		return errors.New("upload.pause_seconds must not be negative")
	}
	switch c.Upload.Privacy {
	case "private", "unlisted", "public":
	default:
		return fmt.Errorf("upload.privacy: unsupported value %q", c.Upload.Privacy)
	}
	return nil
}

func (c *Config) validateCache() error {
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			return errors.New("cache.redis_addr must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend: unsupported value %q", c.Cache.Backend)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("cache.ttl must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
