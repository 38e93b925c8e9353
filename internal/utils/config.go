package utils

import (
	"os"
	"time"

	"github.com/pawtrail/tracker/internal/constants"
	"github.com/pawtrail/tracker/pkg/file"
)

// Config represents the structure of the configuration file. Credentials
// (Postgres DSN, Redis password, SMS and Maps API keys) come from the
// environment, not from this file.
type Config struct {
	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID prefix
		CACertificate string `yaml:"ca_certificate"` // Optional path to the CA certificate
	} `yaml:"mqtt"`

	Postgres struct {
		DSN string `yaml:"dsn"` // Overridden by POSTGRES_DSN when set
	} `yaml:"postgres"`

	Redis struct {
		Addr string `yaml:"addr"` // Redis address for the live feed
		DB   int    `yaml:"db"`   // Redis database index
	} `yaml:"redis"`

	SMS struct {
		Endpoint   string `yaml:"endpoint"`    // SMS provider HTTP endpoint
		SenderName string `yaml:"sender_name"` // Sender id shown to recipients
	} `yaml:"sms"`

	Engine struct {
		OfflineThreshold      time.Duration `yaml:"offline_threshold"`       // Max silence before a device is offline
		LowBatteryThreshold   int           `yaml:"low_battery_threshold"`   // Battery percentage edge trigger
		ProximityRadiusMeters float64       `yaml:"proximity_radius_meters"` // Default nearby-pet radius
		ProximityCooldown     time.Duration `yaml:"proximity_cooldown"`      // Latch TTL per proximity grouping
		StoreMaxAttempts      int           `yaml:"store_max_attempts"`      // Attempts per store operation
		StoreBaseDelay        time.Duration `yaml:"store_base_delay"`        // Initial retry backoff
		StoreMaxDelay         time.Duration `yaml:"store_max_delay"`         // Backoff cap
	} `yaml:"engine"`

	Services struct {
		Ingest struct {
			Enabled bool   `yaml:"enabled"` // Enable/disable MQTT ingest
			Topic   string `yaml:"topic"`   // Report topic filter, e.g. trackers/+/report
			QOS     int    `yaml:"qos"`     // MQTT QoS level for report subscriptions
		} `yaml:"ingest"`

		HTTP struct {
			Enabled bool `yaml:"enabled"` // Enable/disable the HTTP server
			Port    int  `yaml:"port"`    // Listen port
		} `yaml:"http"`

		Sweep struct {
			Enabled  bool          `yaml:"enabled"`  // Enable/disable the liveness sweep
			Interval time.Duration `yaml:"interval"` // Sweep tick interval
		} `yaml:"sweep"`
	} `yaml:"services"`

	Dispatch struct {
		Workers    int `yaml:"workers"`     // Worker pool size for side effects
		QueueDepth int `yaml:"queue_depth"` // Pending side-effect queue depth
	} `yaml:"dispatch"`
}

// LoadConfig loads the YAML configuration from the specified file and
// applies environment overrides and defaults.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		config.Postgres.DSN = dsn
	}

	if config.Engine.OfflineThreshold <= 0 {
		config.Engine.OfflineThreshold = constants.DefaultOfflineThreshold
	}
	if config.Engine.LowBatteryThreshold <= 0 {
		config.Engine.LowBatteryThreshold = constants.DefaultLowBatteryThreshold
	}
	if config.Engine.ProximityRadiusMeters <= 0 {
		config.Engine.ProximityRadiusMeters = constants.DefaultProximityRadiusMeters
	}
	if config.Engine.ProximityCooldown <= 0 {
		config.Engine.ProximityCooldown = constants.DefaultProximityCooldown
	}
	if config.Engine.StoreMaxAttempts <= 0 {
		config.Engine.StoreMaxAttempts = 3
	}
	if config.Engine.StoreBaseDelay <= 0 {
		config.Engine.StoreBaseDelay = 200 * time.Millisecond
	}
	if config.Engine.StoreMaxDelay <= 0 {
		config.Engine.StoreMaxDelay = 2 * time.Second
	}
	if config.Services.Sweep.Interval <= 0 {
		config.Services.Sweep.Interval = constants.DefaultSweepInterval
	}
	if config.Dispatch.Workers <= 0 {
		config.Dispatch.Workers = 8
	}
	if config.Dispatch.QueueDepth <= 0 {
		config.Dispatch.QueueDepth = 256
	}

	return &config, nil
}
