package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"airbridge/internal/api"
	"airbridge/internal/bridge"
	"airbridge/internal/clock"
	"airbridge/internal/config"
	"airbridge/internal/miio"
	"airbridge/internal/mqtt"
	"airbridge/pkg/sink"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	configPath := os.Getenv("AIRBRIDGE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if token := os.Getenv("AIRBRIDGE_DEVICE_TOKEN"); token != "" {
		cfg.Device.Token = token
	}

	logger.Info("Starting airbridge",
		zap.String("device", cfg.Device.Host),
		zap.Int("poll_interval_ms", cfg.PollIntervalMs))

	shared := miio.NewShared(logger)
	client, err := shared.Acquire(cfg.Device.Host, cfg.Device.Token)
	if err != nil {
		logger.Fatal("Failed to connect to device", zap.Error(err))
	}

	var sinks sink.Multi
	var apiServer *api.Server
	var mqttBridge *mqtt.Bridge

	// The accessory is assembled before the MQTT bridge so the bridge can
	// forward set commands to it; its sink list is filled in below.
	accessory := bridge.New(client, sink.Func(func(facet string, value any) {
		sinks.Push(facet, value)
	}), clock.NewRealClock(), bridge.Options{
		PollInterval:   cfg.PollInterval(),
		ChunkSize:      cfg.BatchChunkSize,
		CoalesceWindow: cfg.CoalesceWindow(),
		ModeSettle:     cfg.ModeSettle(),
		LED:            cfg.LEDEnabled(),
		Buzzer:         cfg.BuzzerEnabled(),
	}, func() { shared.Release(cfg.Device.Host) }, logger)

	if cfg.API.Port > 0 {
		apiServer = api.NewServer(accessory, cfg.API.Port, logger)
		sinks = append(sinks, apiServer)
		apiServer.Start()
	}

	if cfg.MQTT.Broker != "" {
		mqttBridge, err = mqtt.NewBridge(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, accessory, logger)
		if err != nil {
			logger.Fatal("Failed to start MQTT bridge", zap.Error(err))
		}
		sinks = append(sinks, mqttBridge)
	}

	if len(sinks) == 0 {
		logger.Warn("No presentation surface configured, updates will be dropped")
	}

	accessory.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	accessory.Stop()
	if mqttBridge != nil {
		mqttBridge.Stop()
	}
	if apiServer != nil {
		apiServer.Stop()
	}
}
