// bedlink - BLE Adjustable Bed Coordinator
//
// This is the main entry point for the bedlink service. bedlink manages
// persistent BLE sessions to OKIN-style adjustable bed controllers and
// exposes them over a REST API, WebSocket events, and an MQTT bridge:
//   - One session per bed, shared by every caller
//   - Press-and-hold movement control with guaranteed stop
//   - Keep-alive monitoring with automatic reconnection
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/bedlink/migrations"

	"github.com/nerrad567/bedlink/internal/api"
	"github.com/nerrad567/bedlink/internal/audit"
	"github.com/nerrad567/bedlink/internal/bed"
	"github.com/nerrad567/bedlink/internal/ble"
	"github.com/nerrad567/bedlink/internal/bridges/mqttctl"
	"github.com/nerrad567/bedlink/internal/infrastructure/config"
	"github.com/nerrad567/bedlink/internal/infrastructure/database"
	"github.com/nerrad567/bedlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/bedlink/internal/infrastructure/logging"
	"github.com/nerrad567/bedlink/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting bedlink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
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

	// Repositories and the audit recorder
	bedRepo := bed.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	recorder := audit.NewRecorder(auditRepo)
	recorder.SetLogger(log)
	defer func() {
		log.Info("flushing audit recorder")
		if closeErr := recorder.Close(); closeErr != nil {
			log.Error("error closing audit recorder", "error", closeErr)
		}
	}()

	// BLE transport and bed registry
	transport := ble.NewTransport()
	transport.SetLogger(log)

	registry := bed.NewRegistry(transport, bed.Config{
		ConnectTimeout:        cfg.GetConnectTimeout(),
		CommandDelay:          cfg.GetCommandDelay(),
		MovementInterval:      cfg.GetMovementInterval(),
		KeepAliveInterval:     cfg.GetKeepAliveInterval(),
		ReconnectInitialDelay: time.Duration(cfg.KeepAlive.Reconnect.InitialDelay) * time.Second,
		ReconnectMaxDelay:     time.Duration(cfg.KeepAlive.Reconnect.MaxDelay) * time.Second,
		ReconnectMaxAttempts:  cfg.KeepAlive.Reconnect.MaxAttempts,
	})
	registry.SetLogger(log)
	defer func() {
		log.Info("closing bed registry")
		if closeErr := registry.Close(); closeErr != nil {
			log.Error("error closing bed registry", "error", closeErr)
		}
	}()

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

	// Connect to MQTT and start the control bridge (optional)
	var mqttBridge *mqttctl.Bridge
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		mqttBridge, err = mqttctl.NewBridge(mqttctl.Options{
			Client:      mqttClient,
			Coordinator: registry,
			QoS:         byte(cfg.MQTT.QoS),
			ServiceID:   cfg.Service.ID,
			Version:     version,
			Recorder:    recorder,
			Logger:      log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
	} else {
		log.Info("MQTT disabled")
	}

	// Create the API server
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Bluetooth: cfg.Bluetooth,
		Logger:    log,
		Registry:  registry,
		BedRepo:   bedRepo,
		AuditRepo: auditRepo,
		Recorder:  recorder,
		Scanner:   transport,
		Metrics:   influxClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Fan registry events out to every consumer before anything can
	// emit. Handlers must not block; the hub and bridge both guarantee
	// that, and the InfluxDB writer batches asynchronously.
	hub := apiServer.Hub()
	registry.SetOnEvent(func(evt bed.Event) {
		hub.BroadcastEvent(evt)
		if mqttBridge != nil {
			mqttBridge.HandleEvent(evt)
		}
		if influxClient != nil {
			switch evt.Type {
			case bed.EventSessionState:
				influxClient.WriteSessionMetric(evt.Address, string(evt.State))
			case bed.EventReconnect:
				influxClient.WriteReconnectMetric(evt.Address, evt.Error == "", evt.Attempt)
			}
		}
	})

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Detach the fan-out before any consumer is torn down. Registry
	// shutdown emits disconnect events, and those must not reach a
	// stopped hub or bridge.
	defer registry.SetOnEvent(nil)

	// Auto-connect registered beds in the background; a bed that is out
	// of range stays disconnected and reconnects lazily on first use.
	autoBeds, err := bedRepo.ListAutoConnect(ctx)
	if err != nil {
		return fmt.Errorf("listing auto-connect beds: %w", err)
	}
	if len(autoBeds) > 0 {
		addresses := make([]string, 0, len(autoBeds))
		for _, b := range autoBeds {
			addresses = append(addresses, b.Address)
		}
		log.Info("auto-connecting beds", "count", len(addresses))
		go registry.ConnectAll(ctx, addresses)
	}

	// Start the keep-alive monitor
	registry.StartKeepAlive()

	// Verify infrastructure is healthy
	if err := healthCheck(ctx, db, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Event fan-out detached
	// 2. API server
	// 3. MQTT bridge, then MQTT client (if enabled)
	// 4. InfluxDB (if enabled)
	// 5. Bed registry (stops movements, closes sessions)
	// 6. Audit recorder (flushes the queue)
	// 7. Database

	log.Info("bedlink stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BEDLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BEDLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	// MQTT bridge health is verified during Start() - it sets up its
	// subscriptions before returning successfully.

	return nil
}
