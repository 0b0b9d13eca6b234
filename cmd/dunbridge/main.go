// dunbridge mirrors Bluetooth DUN modems announced by the dundee daemon
// into the host's connectivity subsystem.
//
// It watches dundee over D-Bus, keeps one device and one network per modem,
// brings the modem's interface up and down as dundee reports activation,
// and exposes the result over MQTT, a REST API and a WebSocket feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/dunbridge/internal/api"
	"github.com/nerrad567/dunbridge/internal/bridges/dundee"
	"github.com/nerrad567/dunbridge/internal/connectivity"
	"github.com/nerrad567/dunbridge/internal/infrastructure/bus"
	"github.com/nerrad567/dunbridge/internal/infrastructure/config"
	"github.com/nerrad567/dunbridge/internal/infrastructure/database"
	"github.com/nerrad567/dunbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/dunbridge/internal/infrastructure/logging"
	"github.com/nerrad567/dunbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/dunbridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyPruneInterval is how often expired connection history is deleted.
const historyPruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Bootstrap()
	log.Info("starting dunbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	manager := connectivity.NewManager(connectivity.SystemInet{})
	manager.SetLogger(log)

	// Connection history (optional)
	var db *database.DB
	var history *connectivity.SQLiteHistoryRepository
	if cfg.History.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		applied, migrateErr := db.Migrate(ctx, migrations.FS)
		if migrateErr != nil {
			closeSink(log, "database", db)
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path, "migrations_applied", applied)

		history = connectivity.NewSQLiteHistoryRepository(db.DB)
		recorder := connectivity.NewHistoryRecorder(history)
		recorder.SetLogger(log)
		closeDB := attachSink(manager, log, "database", db, recorder)
		defer closeDB()

		if retention := cfg.GetHistoryRetention(); retention > 0 {
			go pruneHistoryLoop(ctx, history, retention, historyPruneInterval, log)
		}
	} else {
		log.Info("connection history disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, log.Component("mqtt"))
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}

		qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated 0-2
		statePub := connectivity.NewStatePublisher(mqttClient, qos)
		statePub.SetLogger(log)
		closeMQTT := attachSink(manager, log, "MQTT", mqttClient, statePub)
		defer closeMQTT()

		commands := connectivity.NewCommandHandler(manager, mqttClient, qos)
		commands.SetLogger(log)
		if subErr := commands.Subscribe(mqttClient); subErr != nil {
			return fmt.Errorf("subscribing to device commands: %w", subErr)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, log.Component("influxdb"))
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		closeInflux := attachSink(manager, log, "InfluxDB", influxClient, connectivity.NewTelemetryRecorder(influxClient))
		defer closeInflux()
	} else {
		log.Info("InfluxDB disabled")
	}

	// Message bus
	busClient, err := bus.Connect(cfg.DBus)
	if err != nil {
		return fmt.Errorf("connecting to %s bus: %w", cfg.DBus.Bus, err)
	}
	defer func() {
		log.Info("closing bus connection")
		if closeErr := busClient.Close(); closeErr != nil {
			log.Error("error closing bus", "error", closeErr)
		}
	}()
	log.Info("bus connected", "bus", cfg.DBus.Bus)

	if err := healthCheck(ctx, db, busClient, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	bridge, err := dundee.NewBridge(dundee.BridgeOptions{
		Bus:               busClient,
		Subsystem:         manager,
		Service:           cfg.DBus.Service,
		GetDevicesTimeout: cfg.GetDevicesTimeout(),
		Logger:            log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating DUN bridge: %w", err)
	}

	// API server (optional). Created before the bridge starts so the
	// WebSocket hub sees the first device events.
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = startAPI(ctx, cfg, log, manager, bridge, history, mqttClient)
		if err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	var reporter *dundee.HealthReporter
	if mqttClient != nil {
		reporter = dundee.NewHealthReporter(dundee.HealthReporterConfig{
			BridgeID:   cfg.Bridge.ID,
			InstanceID: uuid.NewString(),
			Version:    version,
			Interval:   cfg.GetHealthInterval(),
			Publisher:  mqttClient,
			Source:     bridge,
			Metrics:    metricsWriter(influxClient),
		})
		reporter.SetLogger(log)
		if pubErr := reporter.PublishStarting(); pubErr != nil {
			log.Warn("publishing starting status", "error", pubErr)
		}
	}

	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting DUN bridge: %w", err)
	}
	// Must run before the sink shutdown steps deferred above.
	defer func() {
		log.Info("stopping DUN bridge")
		bridge.Stop()
	}()

	if reporter != nil {
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("dunbridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DUNBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DUNBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig reads the config file. A missing file at the default path
// falls back to built-in defaults; an explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// startAPI builds the API server, wires its hub into the manager and starts it.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	log *logging.Logger,
	manager *connectivity.Manager,
	bridge *dundee.Bridge,
	history *connectivity.SQLiteHistoryRepository,
	mqttClient *mqtt.Client,
) (*api.Server, error) {
	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		Connectivity: manager,
		Bridge:       bridge,
		Version:      version,
	}
	// Typed nils must not leak into the optional interfaces.
	if history != nil {
		deps.History = history
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, err
	}
	manager.AddObserver(srv.Hub())

	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("API server started", "address", srv.Addr())
	return srv, nil
}

// closer is a sink connection: the database, MQTT or InfluxDB client.
type closer interface {
	Close() error
}

// attachSink queues each observer on the manager and returns the shutdown
// step for conn. The step drains the observers before closing conn.
func attachSink(manager *connectivity.Manager, log *logging.Logger, name string, conn closer, observers ...connectivity.Observer) func() {
	queued := make([]*connectivity.AsyncObserver, 0, len(observers))
	for _, o := range observers {
		async := connectivity.NewAsyncObserver(o, 0)
		async.Start()
		manager.AddObserver(async)
		queued = append(queued, async)
	}

	return func() {
		for _, async := range queued {
			async.Stop()
			if dropped := async.Dropped(); dropped > 0 {
				log.Warn("observer dropped events", "sink", name, "count", dropped)
			}
		}
		closeSink(log, name, conn)
	}
}

func closeSink(log *logging.Logger, name string, conn closer) {
	log.Info("closing " + name)
	if err := conn.Close(); err != nil {
		log.Error("error closing "+name, "error", err)
	}
}

// metricsWriter returns the InfluxDB client as a health MetricsWriter, or
// nil when InfluxDB is disabled.
func metricsWriter(c *influxdb.Client) dundee.MetricsWriter {
	if c == nil {
		return nil
	}
	return c
}

// historyPruner deletes expired history. Satisfied by
// *connectivity.SQLiteHistoryRepository.
type historyPruner interface {
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneHistoryLoop deletes history older than retention once at start and
// then every interval until ctx is cancelled.
func pruneHistoryLoop(ctx context.Context, repo historyPruner, retention, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := repo.PruneHistory(ctx, retention)
		switch {
		case err != nil:
			log.Warn("pruning connection history", "error", err)
		case n > 0:
			log.Info("pruned connection history", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck verifies every configured connection is healthy.
// Optional components may be nil.
func healthCheck(ctx context.Context, db *database.DB, busClient *bus.Client, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := busClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("bus: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
