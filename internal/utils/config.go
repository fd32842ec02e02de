package utils

import (
	"errors"
	"time"

	"github.com/benmeehan/tesla-exporter/pkg/file"
)

// Config represents the structure of the configuration file.
// Interval values are plain seconds; they are scaled with time.Second at the
// point of use.
type Config struct {
	Tesla struct {
		ClientID     string `yaml:"client_id"`     // OAuth2 client id
		ClientSecret string `yaml:"client_secret"` // OAuth2 client secret
		RedirectURI  string `yaml:"redirect_uri"`  // OAuth2 redirect URI
		APIBase      string `yaml:"api_base"`      // Fleet API base URL
		AuthBase     string `yaml:"auth_base"`     // Authorization endpoint base URL
		TokenBase    string `yaml:"token_base"`    // Token endpoint base URL
		Scopes       string `yaml:"scopes"`        // OAuth2 scope string
		VehicleIndex int    `yaml:"vehicle_index"` // Index into the vehicle list
	} `yaml:"tesla"`

	Polling struct {
		Interval      time.Duration `yaml:"interval"`       // Normal poll interval (seconds)
		SleepInterval time.Duration `yaml:"sleep_interval"` // Poll interval while asleep/offline (seconds)
		WakeOnPoll    bool          `yaml:"wake_on_poll"`   // Wake an asleep vehicle before fetching
	} `yaml:"polling"`

	Exporter struct {
		Port           int    `yaml:"port"`            // Prometheus metrics listen port
		CredentialFile string `yaml:"credential_file"` // Path to the persisted credential file
		LogLevel       string `yaml:"log_level"`       // zerolog level name
	} `yaml:"exporter"`

	MQTT struct {
		Enabled       bool   `yaml:"enabled"`        // Enable/disable telemetry publishing
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		Topic         string `yaml:"topic"`          // Topic for telemetry payloads
		QOS           int    `yaml:"qos"`            // MQTT QoS level
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate (optional)
	} `yaml:"mqtt"`
}

// LoadConfig loads the YAML configuration from the specified file and applies
// defaults for everything not set.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if config.Tesla.ClientID == "" || config.Tesla.ClientSecret == "" {
		return nil, errors.New("tesla.client_id and tesla.client_secret are required")
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Tesla.RedirectURI == "" {
		config.Tesla.RedirectURI = "https://localhost/callback"
	}
	if config.Tesla.APIBase == "" {
		config.Tesla.APIBase = "https://fleet-api.prd.na.vn.cloud.tesla.com"
	}
	if config.Tesla.AuthBase == "" {
		config.Tesla.AuthBase = "https://auth.tesla.com"
	}
	if config.Tesla.TokenBase == "" {
		config.Tesla.TokenBase = "https://fleet-auth.prd.vn.cloud.tesla.com"
	}
	if config.Tesla.Scopes == "" {
		config.Tesla.Scopes = "openid offline_access vehicle_device_data vehicle_location"
	}
	if config.Polling.Interval <= 0 {
		config.Polling.Interval = 300
	}
	if config.Polling.SleepInterval <= 0 {
		config.Polling.SleepInterval = 660
	}
	if config.Exporter.Port == 0 {
		config.Exporter.Port = 9090
	}
	if config.Exporter.CredentialFile == "" {
		config.Exporter.CredentialFile = "/data/tokens/token.json"
	}
	if config.Exporter.LogLevel == "" {
		config.Exporter.LogLevel = "info"
	}
	if config.MQTT.Topic == "" {
		config.MQTT.Topic = "tesla/telemetry"
	}
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "tesla-exporter"
	}
}
