package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  port: ":9090"
mysql:
  dsn: "root:root@tcp(db:3306)/scenes"
minio:
  endpoint: "minio:9000"
  bucket: "scenes"
auth:
  jwt_secret: "0123456789abcdef"
worker:
  wait_interval: 2s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, time.Hour, cfg.MinIO.URLExpiry)
	assert.Equal(t, 2*time.Second, cfg.Worker.WaitInterval)
	assert.Equal(t, 10*time.Minute, cfg.Worker.WaitMax)
	assert.Equal(t, 15*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Worker.ProcessingLease)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "stdout", cfg.Log.Output)
	assert.False(t, cfg.WorkerEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MYSQL_DSN", "u:p@tcp(other:3306)/x")
	t.Setenv("ZHIPU_API_KEY", "zk")
	t.Setenv("VOLC_API_KEY", "vk")
	t.Setenv("JWT_SECRET", "env-secret-0123456789")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("WORKER_ENABLED", "true")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "u:p@tcp(other:3306)/x", cfg.MySQL.DSN)
	assert.Equal(t, "zk", cfg.AI.Chat.APIKey)
	assert.Equal(t, "vk", cfg.AI.Image.APIKey)
	assert.Equal(t, "vk", cfg.AI.Video.APIKey)
	assert.Equal(t, "env-secret-0123456789", cfg.Auth.JWTSecret)
	assert.True(t, cfg.WorkerEnabled())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing dsn", `
minio: {endpoint: "m:9000", bucket: "b"}
auth: {jwt_secret: "0123456789abcdef"}
`},
		{"short secret", `
mysql: {dsn: "x"}
minio: {endpoint: "m:9000", bucket: "b"}
auth: {jwt_secret: "short"}
`},
		{"bad log level", minimalYAML + `
log:
  level: loud
`},
		{"worker without redis", `
mysql: {dsn: "x"}
minio: {endpoint: "m:9000", bucket: "b"}
auth: {jwt_secret: "0123456789abcdef"}
worker: {enabled: true}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
