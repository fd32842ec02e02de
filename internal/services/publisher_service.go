package services

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/benmeehan/tesla-exporter/internal/models"
	"github.com/benmeehan/tesla-exporter/pkg/mqtt"
	"github.com/rs/zerolog"
)

// telemetryMessage is the payload published after each successful fetch.
type telemetryMessage struct {
	VehicleName string              `json:"vehicle_name"`
	Timestamp   time.Time           `json:"timestamp"`
	Data        *models.VehicleData `json:"data"`
}

// TelemetryPublisherService republishes successful telemetry payloads to an
// MQTT topic for consumers outside the Prometheus pipeline.
type TelemetryPublisherService struct {
	topic      string
	qos        int
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	running bool
}

// NewTelemetryPublisherService initializes a new TelemetryPublisherService on
// an already connected MQTT client.
func NewTelemetryPublisherService(topic string, qos int, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *TelemetryPublisherService {
	return &TelemetryPublisherService{
		topic:      topic,
		qos:        qos,
		mqttClient: mqttClient,
		logger:     logger,
	}
}

// Start marks the publisher as running.
func (t *TelemetryPublisherService) Start() error {
	if t.running {
		t.logger.Warn().Msg("TelemetryPublisherService is already running")
		return errors.New("telemetry publisher is already running")
	}

	t.running = true
	t.logger.Info().Str("topic", t.topic).Msg("TelemetryPublisherService started successfully")
	return nil
}

// Stop disconnects from the broker.
func (t *TelemetryPublisherService) Stop() error {
	if !t.running {
		t.logger.Warn().Msg("TelemetryPublisherService is not running")
		return errors.New("telemetry publisher is not running")
	}

	t.mqttClient.Disconnect(250)
	t.running = false

	t.logger.Info().Msg("TelemetryPublisherService stopped successfully")
	return nil
}

// PublishTelemetry serializes the payload and publishes it to the configured
// topic.
func (t *TelemetryPublisherService) PublishTelemetry(vehicleName string, data *models.VehicleData) error {
	if !t.running {
		return errors.New("telemetry publisher is not running")
	}

	message := telemetryMessage{
		VehicleName: vehicleName,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	token := t.mqttClient.Publish(t.topic, byte(t.qos), false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}

	t.logger.Debug().Str("topic", t.topic).Msg("Telemetry published")
	return nil
}
