package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/reflex/go/internal/presence"
	"github.com/mcdev12/reflex/go/internal/round/coordinator"
	"github.com/mcdev12/reflex/go/internal/round/gateway"
	"github.com/mcdev12/reflex/go/internal/round/stream"
	"github.com/nats-io/nats.go"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Round struct {
		CountdownMinMs    int `yaml:"countdown_min_ms"`
		CountdownMaxMs    int `yaml:"countdown_max_ms"`
		MaxReactionTimeMs int `yaml:"max_reaction_time_ms"`
		SuspiciousBelowMs int `yaml:"suspicious_below_ms"`
	} `yaml:"round"`

	Presence struct {
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	} `yaml:"presence"`

	Gateway struct {
		MaxMessageSize int64         `yaml:"max_message_size"`
		SendBufferSize int           `yaml:"send_buffer_size"`
		PingInterval   time.Duration `yaml:"ping_interval"`
	} `yaml:"gateway"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		StreamName    string `yaml:"stream_name"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
}

func defaultConfig() *Config {
	rc := coordinator.DefaultConfig()
	gc := gateway.DefaultConnectionConfig()
	sc := stream.DefaultJetStreamConfig()

	var c Config
	c.Port = "8080"
	c.LogLevel = "info"
	c.Round.CountdownMinMs = rc.CountdownMinMs
	c.Round.CountdownMaxMs = rc.CountdownMaxMs
	c.Round.MaxReactionTimeMs = rc.MaxReactionTimeMs
	c.Round.SuspiciousBelowMs = rc.SuspiciousBelowMs
	c.Presence.HeartbeatTimeout = presence.DefaultConfig().HeartbeatTimeout
	c.Gateway.MaxMessageSize = gc.MaxMessageSize
	c.Gateway.SendBufferSize = gc.SendBufferSize
	c.Gateway.PingInterval = gc.PingInterval
	c.NATS.URL = nats.DefaultURL
	c.NATS.StreamName = sc.StreamName
	c.NATS.SubjectPrefix = sc.SubjectPrefix
	return &c
}

// loadConfig reads the optional YAML file, then applies environment
// overrides. A missing file leaves the defaults in place.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.NATS.Enabled = getEnvAsBool("NATS_ENABLED", config.NATS.Enabled)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.Redis.Addr = getEnv("REDIS_ADDR", config.Redis.Addr)
	config.Redis.Password = getEnv("REDIS_PASSWORD", config.Redis.Password)
	config.Redis.DB = getEnvAsInt("REDIS_DB", config.Redis.DB)

	return config, nil
}

func (c *Config) roundConfig() coordinator.Config {
	return coordinator.Config{
		CountdownMinMs:    c.Round.CountdownMinMs,
		CountdownMaxMs:    c.Round.CountdownMaxMs,
		MaxReactionTimeMs: c.Round.MaxReactionTimeMs,
		SuspiciousBelowMs: c.Round.SuspiciousBelowMs,
	}
}

func (c *Config) presenceConfig() presence.Config {
	pc := presence.DefaultConfig()
	pc.HeartbeatTimeout = c.Presence.HeartbeatTimeout
	return pc
}

func (c *Config) gatewayConfig() gateway.Config {
	gc := gateway.DefaultConfig()
	gc.ConnectionConfig.MaxMessageSize = c.Gateway.MaxMessageSize
	gc.ConnectionConfig.SendBufferSize = c.Gateway.SendBufferSize
	gc.ConnectionConfig.PingInterval = c.Gateway.PingInterval
	gc.ConnectionConfig.MaxReactionTimeMs = c.Round.MaxReactionTimeMs
	gc.JetStreamConfig.URL = c.NATS.URL
	gc.JetStreamConfig.StreamName = c.NATS.StreamName
	gc.JetStreamConfig.SubjectFilter = c.NATS.SubjectPrefix + ".>"
	return gc
}

func (c *Config) streamConfig() stream.JetStreamConfig {
	sc := stream.DefaultJetStreamConfig()
	sc.URL = c.NATS.URL
	sc.StreamName = c.NATS.StreamName
	sc.SubjectPrefix = c.NATS.SubjectPrefix
	return sc
}

func (c *Config) redisConfig() presence.RedisConfig {
	return presence.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TTL:      c.Redis.TTL,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
