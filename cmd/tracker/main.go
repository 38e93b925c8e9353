package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pawtrail/tracker/internal/dispatch"
	"github.com/pawtrail/tracker/internal/engine"
	"github.com/pawtrail/tracker/internal/livefeed"
	"github.com/pawtrail/tracker/internal/liveness"
	"github.com/pawtrail/tracker/internal/proximity"
	"github.com/pawtrail/tracker/internal/service_registry"
	"github.com/pawtrail/tracker/internal/services"
	"github.com/pawtrail/tracker/internal/store"
	"github.com/pawtrail/tracker/internal/utils"
	"github.com/pawtrail/tracker/pkg/file"
	"github.com/pawtrail/tracker/pkg/geo"
	"github.com/pawtrail/tracker/pkg/geocode"
	"github.com/pawtrail/tracker/pkg/mqtt"
	"github.com/pawtrail/tracker/pkg/sms"
)

func main() {
	// .env carries credentials; absence is fine in containerized deploys.
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx := context.Background()

	st, err := store.NewPostgresStore(ctx, config.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       config.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	feed := livefeed.NewRedisFeed(redisClient, logger)
	hub := livefeed.NewHub(redisClient, logger)

	var sender sms.Sender
	if apiKey := os.Getenv("SMS_API_KEY"); apiKey != "" && config.SMS.Endpoint != "" {
		sender = sms.NewHTTPGateway(config.SMS.Endpoint, apiKey, config.SMS.SenderName, logger)
	} else {
		logger.Warn().Msg("SMS gateway not configured, text notifications disabled")
	}

	var reverser geocode.Reverser
	if apiKey := os.Getenv("MAPS_API_KEY"); apiKey != "" {
		g, err := geocode.NewGoogleGeocoder(apiKey)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to create geocoder, address enrichment disabled")
		} else {
			reverser = g
		}
	}

	pool := utils.NewWorkerPool(config.Dispatch.Workers, config.Dispatch.QueueDepth)

	dispatcher := dispatch.NewDispatcher(st, sender, feed, reverser, pool, dispatch.RetryPolicy{
		MaxAttempts: config.Engine.StoreMaxAttempts,
		BaseDelay:   config.Engine.StoreBaseDelay,
		MaxDelay:    config.Engine.StoreMaxDelay,
	}, logger)

	tracker := liveness.NewTracker(config.Engine.OfflineThreshold, st, logger)
	latch := proximity.NewLatch(config.Engine.ProximityCooldown)

	eng := engine.New(tracker, geo.NewEvaluator(logger), st, latch, dispatcher, engine.Config{
		LowBatteryThreshold: config.Engine.LowBatteryThreshold,
		DefaultRadiusMeters: config.Engine.ProximityRadiusMeters,
		StoreMaxAttempts:    config.Engine.StoreMaxAttempts,
		StoreBaseDelay:      config.Engine.StoreBaseDelay,
		StoreMaxDelay:       config.Engine.StoreMaxDelay,
	}, logger)

	registry := service_registry.NewServiceRegistry(logger)
	registry.RegisterService("livefeed", hub)

	mqttClient := mqtt.NewMqttService(fileClient)
	if config.Services.Ingest.Enabled {
		clientID := config.MQTT.ClientID + "-" + uuid.New().String()
		logger.Info().Str("client_id", clientID).Msg("Connecting to MQTT broker")
		if err := mqttClient.Initialize(config.MQTT.Broker, clientID, config.MQTT.CACertificate); err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
		}
		registry.RegisterService("ingest", services.NewIngestService(
			config.Services.Ingest.Topic,
			config.Services.Ingest.QOS,
			mqttClient,
			eng,
			logger,
		))
	}

	if config.Services.HTTP.Enabled {
		pingers := map[string]services.Pinger{
			"postgres": services.PingerFunc(st.Ping),
			"redis": services.PingerFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		}
		registry.RegisterService("http", services.NewHTTPService(
			config.Services.HTTP.Port, eng, hub, pingers, logger))
	}

	if config.Services.Sweep.Enabled {
		registry.RegisterService("sweep", services.NewSweepService(
			config.Services.Sweep.Interval,
			tracker,
			st,
			dispatcher,
			latch,
			services.RetryPolicy{
				MaxAttempts: config.Engine.StoreMaxAttempts,
				BaseDelay:   config.Engine.StoreBaseDelay,
				MaxDelay:    config.Engine.StoreMaxDelay,
			},
			logger,
		))
	}

	if err := registry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Msg("All services started successfully")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := registry.StopServices(); err != nil {
		logger.Error().Err(err).Msg("Service shutdown reported errors")
	}
	pool.Shutdown()
	if config.Services.Ingest.Enabled {
		mqttClient.Disconnect(250)
	}
}
