package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigIni(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.ini"), []byte(body), 0o644))
	return dir
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, defaultLoggingLevel, cfg.LoggingLevel)
	assert.Equal(t, defaultMediaPath, cfg.MediaPath)
	assert.Equal(t, defaultSchedulerHost, cfg.SchedulerHost)
	assert.Equal(t, defaultSchedulerPort, cfg.SchedulerPort)
	assert.Equal(t, defaultMinJobResponseTime, cfg.SchedulerMinJobResponseTime)
	assert.Equal(t, defaultMaxDaemonJobs, cfg.SchedulerMaxDaemonJobs)
	assert.Empty(t, cfg.Collaborators)
}

func TestLoadReadsIniSections(t *testing.T) {
	dir := writeConfigIni(t, `
[logging]
level = debug

[media]
path = /var/karaoke/media

[scheduler]
host = 10.0.0.5
port = 9200
max_daemon_jobs = 4
min_job_response_time = 120
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LoggingLevel)
	assert.Equal(t, "/var/karaoke/media", cfg.MediaPath)
	assert.Equal(t, "10.0.0.5", cfg.SchedulerHost)
	assert.Equal(t, 9200, cfg.SchedulerPort)
	assert.Equal(t, 4, cfg.SchedulerMaxDaemonJobs)
	assert.Equal(t, 120*time.Second, cfg.SchedulerMinJobResponseTime)
}

func TestLoadReadsSchedulerSubmitRPM(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, cfg.SchedulerSubmitRPM)

	dir := writeConfigIni(t, `
[scheduler]
submit_rpm = 30
`)
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.SchedulerSubmitRPM)
}

func TestLoadReadsRedisSectionWithDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, defaultRedisDB, cfg.RedisDB)
	assert.Equal(t, defaultRedisReplayLen, cfg.RedisReplayLen)

	dir := writeConfigIni(t, `
[redis]
addr = 10.0.0.9:6379
password = hunter2
db = 2
replay_len = 50
`)

	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9:6379", cfg.RedisAddr)
	assert.Equal(t, "hunter2", cfg.RedisPassword)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 50, cfg.RedisReplayLen)
	assert.NotContains(t, cfg.Collaborators, "redis.addr")
}

func TestLoadCollectsCollaboratorSections(t *testing.T) {
	dir := writeConfigIni(t, `
[collaborators.acoustid]
key = abc123

[collaborators.openai]
key = sk-xyz
model = gpt-4o
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "abc123", cfg.Collaborators["collaborators.acoustid.key"])
	assert.Equal(t, "sk-xyz", cfg.Collaborators["collaborators.openai.key"])
	assert.Equal(t, "gpt-4o", cfg.Collaborators["collaborators.openai.model"])
}

func TestLoadEnvVarOverridesIniValue(t *testing.T) {
	dir := writeConfigIni(t, `
[scheduler]
port = 9200
`)

	t.Setenv("KARAOKE_SCHEDULER_PORT", "7000")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.SchedulerPort)
}
