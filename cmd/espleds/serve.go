package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/espleds-core/internal/api"
	"github.com/nerrad567/espleds-core/internal/bridge"
	"github.com/nerrad567/espleds-core/internal/control"
	"github.com/nerrad567/espleds-core/internal/controller"
	"github.com/nerrad567/espleds-core/internal/discovery"
	"github.com/nerrad567/espleds-core/internal/history"
	"github.com/nerrad567/espleds-core/internal/infrastructure/config"
	"github.com/nerrad567/espleds-core/internal/infrastructure/database"
	"github.com/nerrad567/espleds-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/espleds-core/internal/infrastructure/logging"
	"github.com/nerrad567/espleds-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/espleds-core/internal/poller"
)

// historyPruneInterval is how often old parameter history is deleted.
const historyPruneInterval = time.Hour

// run is the serve command, separated from cobra for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - path: Configuration file path
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, path string) error { //nolint:gocognit,gocyclo // linear start-up sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ESPLEDS Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Parameter history (optional)
	var (
		db          *database.DB
		historyRepo history.Repository
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.FromConfig(cfg.Database))
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

		if migrateErr := db.Migrate(ctx); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		historyRepo = history.NewSQLiteRepository(db.DB)
		if cfg.Database.HistoryRetention > 0 {
			go pruneHistoryLoop(ctx, historyRepo, cfg.Database.HistoryRetention, log)
		}
	} else {
		log.Info("database disabled, parameter history off")
	}

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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	registry := discovery.NewRegistry(discoveryConfig(cfg.Discovery))
	registry.SetLogger(log)

	// The bridge and the manager refer to each other: the bridge sends MQTT
	// commands through the manager, and the manager reports settings to the
	// bridge. Commands only arrive after Start, when manager is set.
	var manager *controller.Manager
	listeners := controller.Listeners{hub}
	recorders := controller.Recorders{}

	var mqttBridge *bridge.Bridge
	if mqttClient != nil {
		mqttBridge, err = bridge.New(bridge.Options{
			MQTTClient: mqttClient,
			Sender: bridge.SenderFunc(func(address, source string, p control.Parameter, v control.Value) error {
				return manager.Send(address, source, p, v)
			}),
			Devices: registry,
			QoS:     byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0..2
			Version: version,
			Logger:  log,
		})
		if err != nil {
			return fmt.Errorf("creating MQTT bridge: %w", err)
		}
		listeners = append(listeners, mqttBridge)
	}

	if historyRepo != nil {
		recorders = append(recorders, controller.HistoryRecorder{Repo: historyRepo, Logger: log})
	}
	if influxClient != nil {
		recorders = append(recorders, controller.TelemetryRecorder{Writer: influxClient})
	}

	manager = controller.NewManager(ctx, controller.ManagerConfig{
		ClientOptions: clientOptions(cfg.Control),
		Recorder:      recorders,
		Listener:      listeners,
		Logger:        log,
	})
	defer func() {
		log.Info("closing device controllers")
		manager.Close()
	}()

	registry.AddObserver(manager)
	if mqttBridge != nil {
		registry.AddObserver(mqttBridge)
	}
	if influxClient != nil {
		registry.AddObserver(presenceTelemetry{writer: influxClient})
	}

	if err := registry.Start(ctx); err != nil {
		return fmt.Errorf("starting discovery: %w", err)
	}
	defer func() {
		log.Info("stopping discovery")
		registry.Stop()
	}()

	snapshots := poller.New(registry, poller.Config{Interval: cfg.Poller.Interval})
	snapshots.SetLogger(log)
	snapshots.Subscribe(hub)
	if mqttBridge != nil {
		snapshots.Subscribe(mqttBridge)
	}
	if influxClient != nil {
		snapshots.Subscribe(presenceTelemetry{writer: influxClient})
	}

	if mqttBridge != nil {
		if err := mqttBridge.Start(ctx); err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
	}

	snapshots.Start(ctx)
	defer snapshots.Stop()

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log,
			Devices:     registry,
			Manager:     manager,
			History:     historyRepo,
			ExternalHub: hub,
			Version:     version,
		}
		if mqttBridge != nil {
			deps.Bridge = mqttBridge
		}
		if db != nil {
			deps.Database = db
		}

		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, poller, bridge, discovery,
	// controllers (in-flight writes finish and are recorded), MQTT,
	// InfluxDB, database.

	log.Info("ESPLEDS Core stopped")
	return nil
}

// discoveryConfig maps the YAML section onto the registry's settings.
func discoveryConfig(cfg config.DiscoveryConfig) discovery.Config {
	return discovery.Config{
		ListenAddress: cfg.ListenAddress,
		Port:          cfg.Port,
		BufferSize:    cfg.BufferSize,
		StaleAfter:    cfg.StaleAfter,
		EvictInterval: cfg.EvictInterval,
	}
}

// clientOptions maps the YAML section onto device client options.
func clientOptions(cfg config.ControlConfig) []control.Option {
	return []control.Option{
		control.WithTimeout(cfg.Timeout),
		control.WithRetry(control.RetryPolicy{
			Attempts:     cfg.PutAttempts,
			InitialDelay: cfg.RetryInitialDelay,
			MaxDelay:     cfg.RetryMaxDelay,
		}),
	}
}

// healthCheck verifies the enabled infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (may be nil if disabled)
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}

// pruneHistoryLoop deletes history older than retention, once at start and
// then every historyPruneInterval, until ctx is cancelled.
func pruneHistoryLoop(ctx context.Context, repo history.Repository, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, retention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning parameter history failed", "error", err)
		case n > 0:
			log.Info("pruned parameter history", "deleted", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
