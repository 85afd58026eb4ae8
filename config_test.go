// Copyright 2024 Hemant. All rights reserved.
// Use of this source code is governed by a MIT license
// that can be found in the LICENSE file.

package qtask

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	content := `
redis_host: redis.internal
redis_port: 6380
redis_username: worker
redis_password: hunter2
total_partitions: 8
log_level: debug
log_service_name: billing
log_use_colors: true
health_check_interval: 30s
trim_max_len: 100000
trim_interval: 10m
trim_topics:
  - invoices
  - receipts
`
	path := filepath.Join(t.TempDir(), "qtask.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "redis.internal", cfg.RedisHost)
	assert.Equal(t, 6380, cfg.RedisPort)
	assert.Equal(t, "worker", cfg.RedisUsername)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.Equal(t, 8, cfg.TotalPartitions)
	assert.Equal(t, DebugLevel, cfg.LogLevel)
	assert.Equal(t, "billing", cfg.LogServiceName)
	assert.True(t, cfg.LogUseColors)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, int64(100000), cfg.TrimMaxLen)
	assert.Equal(t, 10*time.Minute, cfg.TrimInterval)
	assert.Equal(t, []string{"invoices", "receipts"}, cfg.TrimTopics)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtask.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: shouty\n"), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLogLevelFlagValue(t *testing.T) {
	var l LogLevel
	require.NoError(t, l.Set("WARN"))
	assert.Equal(t, WarnLevel, l)
	assert.Equal(t, "warn", l.String())

	require.NoError(t, l.Set("warning"))
	assert.Equal(t, WarnLevel, l)

	assert.Error(t, l.Set("loud"))
}

func TestConfigRedisOptionsOverlay(t *testing.T) {
	cfg := Config{
		RedisHost:       "h",
		RedisPort:       6379,
		RedisUsername:   "u",
		RedisPassword:   "p",
		TotalPartitions: 1,
	}
	opts := cfg.redisOptions()
	assert.Equal(t, "h:6379", opts.Addr)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	assert.NoError(t, cfg.validate())

	bad := cfg
	bad.RedisPort = 70000
	assert.Error(t, bad.validate())
}
