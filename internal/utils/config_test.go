package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benmeehan/tesla-exporter/pkg/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
tesla:
  client_id: "test-client-id"
  client_secret: "test-client-secret"
`)

	config, err := LoadConfig(path, file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, "test-client-id", config.Tesla.ClientID)
	assert.Equal(t, "https://fleet-api.prd.na.vn.cloud.tesla.com", config.Tesla.APIBase)
	assert.Equal(t, "https://auth.tesla.com", config.Tesla.AuthBase)
	assert.Equal(t, "https://fleet-auth.prd.vn.cloud.tesla.com", config.Tesla.TokenBase)
	assert.Equal(t, "openid offline_access vehicle_device_data vehicle_location", config.Tesla.Scopes)
	assert.Equal(t, 0, config.Tesla.VehicleIndex)
	assert.Equal(t, time.Duration(300), config.Polling.Interval)
	assert.Equal(t, time.Duration(660), config.Polling.SleepInterval)
	assert.False(t, config.Polling.WakeOnPoll)
	assert.Equal(t, 9090, config.Exporter.Port)
	assert.Equal(t, "/data/tokens/token.json", config.Exporter.CredentialFile)
	assert.Equal(t, "info", config.Exporter.LogLevel)
	assert.False(t, config.MQTT.Enabled)
	assert.Equal(t, "tesla/telemetry", config.MQTT.Topic)
	assert.Equal(t, "tesla-exporter", config.MQTT.ClientID)
}

func TestLoadConfig_ExplicitValuesOverrideDefaults(t *testing.T) {
	path := writeConfigFile(t, `
tesla:
  client_id: "test-client-id"
  client_secret: "test-client-secret"
  vehicle_index: 1
polling:
  interval: 60
  sleep_interval: 900
  wake_on_poll: true
exporter:
  port: 9402
  log_level: "debug"
mqtt:
  enabled: true
  broker: "tcp://localhost:1883"
  qos: 1
`)

	config, err := LoadConfig(path, file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, 1, config.Tesla.VehicleIndex)
	assert.Equal(t, time.Duration(60), config.Polling.Interval)
	assert.Equal(t, time.Duration(900), config.Polling.SleepInterval)
	assert.True(t, config.Polling.WakeOnPoll)
	assert.Equal(t, 9402, config.Exporter.Port)
	assert.Equal(t, "debug", config.Exporter.LogLevel)
	assert.True(t, config.MQTT.Enabled)
	assert.Equal(t, "tcp://localhost:1883", config.MQTT.Broker)
	assert.Equal(t, 1, config.MQTT.QOS)
}

func TestLoadConfig_MissingCredentialsFails(t *testing.T) {
	path := writeConfigFile(t, `
tesla:
  client_id: "test-client-id"
`)

	_, err := LoadConfig(path, file.NewFileService())
	assert.ErrorContains(t, err, "client_secret")
}

func TestLoadConfig_MissingFileFails(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), file.NewFileService())
	assert.Error(t, err)
}
