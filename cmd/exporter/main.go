package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benmeehan/tesla-exporter/internal/auth"
	"github.com/benmeehan/tesla-exporter/internal/fleet"
	"github.com/benmeehan/tesla-exporter/internal/metrics"
	"github.com/benmeehan/tesla-exporter/internal/scheduler"
	"github.com/benmeehan/tesla-exporter/internal/service_registry"
	"github.com/benmeehan/tesla-exporter/internal/services"
	"github.com/benmeehan/tesla-exporter/internal/utils"
	"github.com/benmeehan/tesla-exporter/pkg/file"
	"github.com/benmeehan/tesla-exporter/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Set up structured logging with JSON output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(config.Exporter.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	// Initialize the credential lifecycle
	tokenStore := auth.NewTokenStore(config.Exporter.CredentialFile, fileClient, logger)
	credManager := auth.NewCredentialManager(auth.Config{
		ClientID:     config.Tesla.ClientID,
		ClientSecret: config.Tesla.ClientSecret,
		RedirectURI:  config.Tesla.RedirectURI,
		APIBase:      config.Tesla.APIBase,
		AuthBase:     config.Tesla.AuthBase,
		TokenBase:    config.Tesla.TokenBase,
		Scopes:       config.Tesla.Scopes,
	}, tokenStore, logger)

	if err := credManager.Load(); err != nil {
		if errors.Is(err, auth.ErrCredentialNotFound) {
			logger.Fatal().
				Str("path", config.Exporter.CredentialFile).
				Msg("No credential file found. Run tokensetup first to authenticate")
		}
		logger.Fatal().Err(err).Msg("Failed to load credential")
	}

	fleetClient := fleet.NewClient(config.Tesla.APIBase, credManager, logger)

	tracker := scheduler.NewSleepTracker(
		config.Polling.Interval*time.Second,
		config.Polling.SleepInterval*time.Second,
		config.Polling.WakeOnPoll,
		logger,
	)

	collector := metrics.NewVehicleCollector()

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(logger)

	// Optional MQTT telemetry publishing
	var publisher services.TelemetryPublisher
	if config.MQTT.Enabled {
		// Generate a unique MQTT Client ID by appending a UUID
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", clientID).Msg("Using MQTT Client ID")

		mqttClient := mqtt.NewMqttService(fileClient)
		if err := mqttClient.Initialize(config.MQTT.Broker, clientID, config.MQTT.CACertificate); err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}

		publisherService := services.NewTelemetryPublisherService(
			config.MQTT.Topic, config.MQTT.QOS, mqttClient, logger)
		serviceRegistry.RegisterService("telemetry_publisher", publisherService)
		publisher = publisherService
	}

	metricsServer := services.NewMetricsServerService(config.Exporter.Port, collector, logger)
	serviceRegistry.RegisterService("metrics_server", metricsServer)

	poller := services.NewPollerService(
		fleetClient,
		tracker,
		collector,
		publisher,
		config.Tesla.VehicleIndex,
		config.Polling.WakeOnPoll,
		logger,
	)
	serviceRegistry.RegisterService("poller", poller)

	logger.Info().
		Dur("interval", config.Polling.Interval*time.Second).
		Dur("sleep_interval", config.Polling.SleepInterval*time.Second).
		Bool("wake_on_poll", config.Polling.WakeOnPoll).
		Msg("Starting polling loop")

	if err := serviceRegistry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info().Msg("Exporter shut down cleanly")
}
