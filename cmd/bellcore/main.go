// Bellcore - remote lab doorbell relay
//
// Bridges a web front-end to physical doorbell devices over MQTT:
// visitors see which labs are reachable and ring them; devices report
// presence through retained heartbeats; lab staff can override the
// advertised availability.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/larlab/bellcore/migrations"

	"github.com/larlab/bellcore/internal/api"
	"github.com/larlab/bellcore/internal/audit"
	"github.com/larlab/bellcore/internal/guard"
	"github.com/larlab/bellcore/internal/infrastructure/config"
	"github.com/larlab/bellcore/internal/infrastructure/database"
	"github.com/larlab/bellcore/internal/infrastructure/influxdb"
	"github.com/larlab/bellcore/internal/infrastructure/logging"
	"github.com/larlab/bellcore/internal/infrastructure/mqtt"
	"github.com/larlab/bellcore/internal/lab"
	"github.com/larlab/bellcore/internal/override"
	"github.com/larlab/bellcore/internal/presence"
	"github.com/larlab/bellcore/internal/ring"
	"github.com/larlab/bellcore/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting bellcore",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build the lab registry from configuration
	registry := lab.NewRegistry(cfg.Labs.IDs, log)
	log.Info("lab registry initialised", "labs", registry.Count())

	// Load manual overrides (missing or malformed file starts empty)
	overrides := override.NewStore(cfg.Labs.OverridesPath)
	overrides.SetLogger(log)
	overrides.Load()
	log.Info("overrides loaded", "path", cfg.Labs.OverridesPath, "active", len(overrides.Snapshot()))

	// Presence tracker with its heartbeat drain loop
	tracker := presence.NewTracker(registry)
	tracker.SetLogger(log)
	go tracker.Run(ctx)

	// Sessions and abuse guards
	sessions := session.NewManager()
	rateLimiter := guard.NewRateLimiter(cfg.RateWindow(), cfg.Security.RateLimit.Max)
	cooldown := guard.NewCooldown(cfg.CooldownDuration())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Feed device heartbeats into the presence tracker
	if err := subscribeHeartbeats(mqttClient, tracker, influxClient, log); err != nil {
		return fmt.Errorf("subscribing to heartbeats: %w", err)
	}
	log.Info("heartbeat subscription active", "topic", mqtt.Topics{}.AllLabStatus())

	// Ring dispatcher over the live bus
	dispatcher := ring.NewDispatcher(registry, sessions, cooldown, mqttClient)

	// Audit trail
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// API server
	server, err := api.New(api.Deps{
		Config:          cfg.API,
		Security:        cfg.Security,
		Logger:          log,
		Registry:        registry,
		Presence:        tracker,
		Overrides:       overrides,
		Sessions:        sessions,
		RateLimiter:     rateLimiter,
		Cooldown:        cooldown,
		Dispatcher:      dispatcher,
		MQTT:            mqttClient,
		DB:              db,
		Audit:           auditRepo,
		Telemetry:       influxClient,
		OnlineThreshold: cfg.OnlineThreshold(),
		Version:         version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT
	// 4. Database

	log.Info("bellcore stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BELLCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BELLCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// subscribeHeartbeats wires the wildcard status subscription into the
// presence tracker. Heartbeats for unknown labs are dropped by Ingest;
// heartbeats for known labs are optionally mirrored to telemetry.
func subscribeHeartbeats(client *mqtt.Client, tracker *presence.Tracker, telemetry *influxdb.Client, log *logging.Logger) error {
	topics := mqtt.Topics{}
	return client.Subscribe(topics.AllLabStatus(), 1, func(topic string, payload []byte) error {
		rawLab := mqtt.LabFromStatusTopic(topic)
		if rawLab == "" {
			log.Debug("ignoring status message on malformed topic", "topic", topic)
			return nil
		}

		// The retained "offline" tombstone (LWT or graceful shutdown)
		// withdraws presence; only heartbeat payloads refresh last-seen.
		if !presence.IsHeartbeat(payload) {
			log.Debug("lab announced offline", "lab", rawLab)
			return nil
		}

		now := time.Now()
		if !tracker.Ingest(rawLab, now) {
			return nil
		}

		if telemetry != nil {
			if id, err := lab.Normalize(rawLab); err == nil {
				telemetry.WriteHeartbeat(string(id), now)
			}
		}

		return nil
	})
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			// Telemetry is optional; degrade instead of refusing to start
			if !errors.Is(err, influxdb.ErrNotConnected) {
				return fmt.Errorf("influxdb: %w", err)
			}
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
