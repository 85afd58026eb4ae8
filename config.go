// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hemant/qtask/internal/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config specifies the facade's store endpoint, partitioning, and logging
// behavior.
type Config struct {
	// RedisHost and RedisPort locate the stream store. Required.
	RedisHost string `yaml:"redis_host"`
	RedisPort int    `yaml:"redis_port"`

	// Optional store credentials.
	RedisUsername string `yaml:"redis_username"`
	RedisPassword string `yaml:"redis_password"`

	// TotalPartitions is the number of partitions per logical topic.
	// Required, positive, and fleet-wide: every producer and consumer of a
	// topic must agree on it.
	TotalPartitions int `yaml:"total_partitions"`

	// LogLevel specifies the minimum log level to enable.
	//
	// If unset, InfoLevel is used by default.
	LogLevel LogLevel `yaml:"log_level"`

	// Cosmetic logger settings for the default logger.
	LogServiceName     string `yaml:"log_service_name"`
	LogUseColors       bool   `yaml:"log_use_colors"`
	LogTimestampFormat string `yaml:"log_timestamp_format"`

	// Logger overrides the default logger; the cosmetic settings above are
	// ignored when set.
	Logger Logger `yaml:"-"`

	// RedisOptions carries pass-through extras for the store driver
	// (keepalive, TLS, pool sizing, ...). The endpoint and credential fields
	// above take precedence over their counterparts here.
	RedisOptions *redis.Options `yaml:"-"`

	// HealthCheckFunc is called periodically with any error encountered
	// during ping to the connected store.
	HealthCheckFunc func(error) `yaml:"-"`

	// HealthCheckInterval specifies the interval between healthchecks.
	//
	// If unset or zero, the interval is set to 15 seconds.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`

	// TrimMaxLen, if positive, enables periodic approximate trimming of the
	// partition streams of the topics listed in TrimTopics.
	TrimMaxLen int64 `yaml:"trim_max_len"`

	// TrimInterval specifies the interval between trim runs.
	//
	// If unset or zero, default interval of 5 minutes is used.
	TrimInterval time.Duration `yaml:"trim_interval"`

	// TrimTopics lists the logical topics the trimmer covers.
	TrimTopics []string `yaml:"trim_topics"`
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.RedisHost) == "" {
		return fmt.Errorf("qtask: redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("qtask: redis port must be in (0, 65535], got %d", c.RedisPort)
	}
	if c.TotalPartitions <= 0 {
		return fmt.Errorf("qtask: total partitions must be a positive integer, got %d", c.TotalPartitions)
	}
	return nil
}

// redisOptions assembles the driver options: the optional pass-through
// template first, then the explicit endpoint and credentials on top.
func (c *Config) redisOptions() *redis.Options {
	var opts redis.Options
	if c.RedisOptions != nil {
		opts = *c.RedisOptions
	}
	opts.Addr = net.JoinHostPort(c.RedisHost, cast.ToString(c.RedisPort))
	if c.RedisUsername != "" {
		opts.Username = c.RedisUsername
	}
	if c.RedisPassword != "" {
		opts.Password = c.RedisPassword
	}
	return &opts
}

// LoadConfig reads a Config from a YAML file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("qtask: failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("qtask: failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Logger supports logging at various log levels.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Fatal(args ...interface{})
}

// LogLevel represents logging level.
type LogLevel int32

const (
	// Note: reserving value zero to differentiate unspecified case.
	level_unspecified LogLevel = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	SilentLevel
)

// String is part of the flag.Value interface.
func (l *LogLevel) String() string {
	switch *l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case SilentLevel:
		return "silent"
	}
	panic(fmt.Sprintf("qtask: unexpected log level: %v", *l))
}

// Set is part of the flag.Value interface.
func (l *LogLevel) Set(val string) error {
	switch strings.ToLower(val) {
	case "debug":
		*l = DebugLevel
	case "info":
		*l = InfoLevel
	case "warn", "warning":
		*l = WarnLevel
	case "error":
		*l = ErrorLevel
	case "silent":
		*l = SilentLevel
	default:
		return fmt.Errorf("qtask: unsupported log level %q", val)
	}
	return nil
}

// UnmarshalYAML lets a config file spell the level as a string.
func (l *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return l.Set(s)
}

func toInternalLogLevel(l LogLevel) log.Level {
	switch l {
	case DebugLevel:
		return log.DebugLevel
	case InfoLevel:
		return log.InfoLevel
	case WarnLevel:
		return log.WarnLevel
	case ErrorLevel:
		return log.ErrorLevel
	case SilentLevel:
		return log.SilentLevel
	}
	panic(fmt.Sprintf("qtask: unexpected log level: %v", l))
}
