package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const applicationYml = `
debug: true
checkpoints_dir: /tmp/checkpoints
trigger:
  fire_check_interval: 2s
  checkpoint: "@every 30s"
  batch_size: 16
window:
  name: clicks
  size: 5m
  allowed_lateness: 10s
  max_gap_second: 60
kafka:
  addresses: ["127.0.0.1:9092"]
  topics: ["clicks"]
  group_id: streaming-trigger
`

func writeFile(t *testing.T, dir string, name string, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", applicationYml)

	application, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, application.Debug)
	assert.Equal(t, "/tmp/checkpoints", application.CheckpointsDir)
	assert.Equal(t, ":8080", application.MetricsListen)
	assert.Equal(t, 2*time.Second, application.Trigger.FireCheckInterval)
	assert.Equal(t, "@every 30s", application.Trigger.Checkpoint)
	assert.Equal(t, 16, application.Trigger.BatchSize)
	assert.Equal(t, time.Second, application.Trigger.FlushInterval)
	assert.Equal(t, 5*time.Minute, application.Window.Size)
	require.NotNil(t, application.Window.MaxGapSecond)
	assert.EqualValues(t, 60, *application.Window.MaxGapSecond)
	require.NotNil(t, application.Kafka)
	assert.Equal(t, []string{"clicks"}, application.Kafka.Topics)
}

func TestLoadEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", applicationYml+"env: test\n")
	writeFile(t, dir, "application-test.yml", "trigger:\n  batch_size: 128\n")

	application, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 128, application.Trigger.BatchSize)
	assert.Equal(t, 2*time.Second, application.Trigger.FireCheckInterval)
}

func TestLoadMissingOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", applicationYml+"env: prod\n")

	application, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 16, application.Trigger.BatchSize)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", applicationYml)
	t.Setenv("APPLICATION_CHECKPOINTS_DIR", "/data")

	application, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/data", application.CheckpointsDir)
}
