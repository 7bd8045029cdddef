// Package config loads nbexec daemon configuration from a YAML file
// with environment variable overrides. Zero values are backfilled
// with defaults so a missing or partial config file still yields a
// usable configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all nbexec configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Console ConsoleConfig `yaml:"console"`
	Queue   QueueConfig   `yaml:"queue"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP/WebSocket surface.
type ServerConfig struct {
	Listen          string `yaml:"listen"`           // host:port
	ShutdownTimeout string `yaml:"shutdown_timeout"` // e.g. "10s"
}

// ConsoleConfig configures the shared interpreter.
type ConsoleConfig struct {
	InputBuffer int `yaml:"input_buffer"` // pending console commands
}

// QueueConfig configures the execution queue.
type QueueConfig struct {
	TaskBuffer      int `yaml:"task_buffer"`      // serialized actor task backlog
	EventBuffer     int `yaml:"event_buffer"`     // per-subscriber event backlog
	SubscriberLimit int `yaml:"subscriber_limit"` // max concurrent observers
}

// LoggingConfig configures the categorized debug logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Dir        string          `yaml:"dir"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:8787",
			ShutdownTimeout: "10s",
		},
		Console: ConsoleConfig{
			InputBuffer: 16,
		},
		Queue: QueueConfig{
			TaskBuffer:      128,
			EventBuffer:     256,
			SubscriberLimit: 32,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Dir:       filepath.Join(".nbexec", "logs"),
			Level:     "info",
		},
	}
}

// Load reads configuration from path, applies defaults for missing
// values and environment overrides on top. An empty path or missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyDefaults backfills zero values so partial config files work.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Console.InputBuffer <= 0 {
		c.Console.InputBuffer = def.Console.InputBuffer
	}
	if c.Queue.TaskBuffer <= 0 {
		c.Queue.TaskBuffer = def.Queue.TaskBuffer
	}
	if c.Queue.EventBuffer <= 0 {
		c.Queue.EventBuffer = def.Queue.EventBuffer
	}
	if c.Queue.SubscriberLimit <= 0 {
		c.Queue.SubscriberLimit = def.Queue.SubscriberLimit
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = def.Logging.Dir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NBEXEC_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("NBEXEC_LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("NBEXEC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NBEXEC_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = b
		}
	}
}
