package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/shadow-agent/internal/agent"
	"github.com/nerrad567/shadow-agent/internal/alert"
	"github.com/nerrad567/shadow-agent/internal/api"
	"github.com/nerrad567/shadow-agent/internal/geocode"
	"github.com/nerrad567/shadow-agent/internal/gpsbridge"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/config"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/database"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/influxdb"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/logging"
	"github.com/nerrad567/shadow-agent/internal/infrastructure/mqtt"
	"github.com/nerrad567/shadow-agent/internal/journal"
	"github.com/nerrad567/shadow-agent/internal/telemetry"
	"github.com/nerrad567/shadow-agent/migrations"
)

// pruneTimeout bounds the startup journal prune.
const pruneTimeout = 30 * time.Second

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear bootstrap
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting shadow agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version).With("thing", cfg.Device.ThingName)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Journal database (optional)
	var (
		db          *database.DB
		journalRepo journal.Repository
	)
	db, err = database.Open(cfg.Database)
	switch {
	case errors.Is(err, database.ErrDisabled):
		log.Info("journal disabled")
	case err != nil:
		return fmt.Errorf("opening database: %w", err)
	default:
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		journalRepo = openJournal(ctx, db, cfg.Database.RetentionDays, log)
		log.Info("journal ready", "path", db.Path())
	}

	// Connect to MQTT broker
	topics := mqtt.NewTopics(cfg.Device.ThingName, cfg.MQTT.Topics)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
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

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Device.ThingName)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Alert output
	output, err := alert.NewSignal(cfg.Alert.Signal.Type, cfg.Alert.Signal.GPIOPath, mqttClient, topics.Actuator(), log)
	if err != nil {
		return fmt.Errorf("building alert signal: %w", err)
	}
	actuator := alert.NewActuator(cfg.Alert.HazardSignature, cfg.GetAlertDuration(), output, log)
	log.Info("alert output ready", "signal", output.Name(), "duration", cfg.GetAlertDuration())

	// Telemetry
	publisher := telemetry.NewPublisher(mqttClient, telemetry.Topics{
		Telemetry:    topics.Telemetry(),
		ShadowUpdate: topics.ShadowUpdate(),
	}, cfg.Device.ActuatorKey, log)
	if influxClient != nil {
		publisher.AddSink(influxClient)
	}

	// Address resolution
	var (
		resolver geocode.AddressResolver
		async    *geocode.AsyncResolver
	)
	if cfg.Geocoder.Enabled {
		r := geocode.NewResolver(geocode.Options{
			URL:     cfg.Geocoder.URL,
			APIKey:  cfg.Geocoder.APIKey,
			Timeout: cfg.GetGeocoderTimeout(),
			Logger:  log,
		})
		resolver = r
		if cfg.Geocoder.Async {
			async = geocode.NewAsyncResolver(r)
		}
		log.Info("geocoder enabled", "url", cfg.Geocoder.URL, "async", cfg.Geocoder.Async)
	} else {
		log.Info("geocoder disabled, reporting coordinates as address")
	}

	deps := agent.Deps{
		Actuator:  actuator,
		Publisher: publisher,
		Resolver:  resolver,
		Async:     async,
		Journal:   journalRepo,
		Logger:    log,
	}
	if influxClient != nil {
		deps.History = influxClient
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		publisher.AddSink(api.NewHubSink(hub))
		deps.Hub = hub
	}

	ag := agent.New(agent.Config{
		TickInterval:     cfg.GetTickInterval(),
		InboxSize:        cfg.Loop.InboxSize,
		PumpBeforeQuery:  cfg.Query.PumpBeforeSnapshot,
		PositionTopic:    topics.Position(),
		ActuatorKey:      cfg.Device.ActuatorKey,
		SpeedScale:       cfg.Device.SpeedScale,
		MaxDocumentBytes: cfg.MQTT.MaxDocumentBytes,
	}, deps)

	// Subscribe after the loop exists so no fragment is dropped
	deliver := func(topic string, payload []byte) error {
		return ag.Deliver(ctx, topic, payload)
	}
	qos := byte(cfg.MQTT.QoS) //nolint:gosec // validated 0-2 by config
	if err := mqttClient.SubscribeAll(append(topics.Inbound(), topics.Position()), qos, deliver); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	log.Info("subscribed", "topics", mqttClient.Subscriptions())

	// Position helper (optional)
	var bridge *gpsbridge.Supervisor
	if cfg.GPSBridge.Enabled {
		positionTopic := topics.Position()
		bridge = gpsbridge.NewSupervisor(gpsbridge.Config{
			Command:            cfg.GPSBridge.Command,
			Args:               cfg.GPSBridge.Args,
			RestartDelay:       cfg.GetGPSBridgeRestartDelay(),
			MaxRestartDelay:    cfg.GetGPSBridgeMaxRestartDelay(),
			MaxRestartAttempts: cfg.GPSBridge.MaxRestarts,
			StaleTimeout:       cfg.GetGPSBridgeStaleTimeout(),
		}, func(line []byte) {
			if err := ag.Deliver(ctx, positionTopic, line); err != nil {
				log.Debug("position line dropped", "error", err)
			}
		})
		bridge.SetLogger(log.With("component", "gpsbridge"))
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("starting position helper: %w", err)
		}
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Error("error stopping position helper", "error", stopErr)
			}
		}()
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		apiDeps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Agent:    ag,
			MQTT:     mqttClient,
			Hub:      hub,
			Thing:    cfg.Device.ThingName,
			Version:  version,
		}
		if bridge != nil {
			apiDeps.Bridge = bridge
		}
		if influxClient != nil {
			apiDeps.History = influxClient
		}
		if journalRepo != nil {
			apiDeps.Journal = journalRepo
			apiDeps.DB = db.DB
		}
		server, err := api.New(apiDeps)
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
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled: security.jwt.secret is empty")
		}
	}

	log.Info("initialisation complete, entering control loop")

	if err := ag.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("control loop: %w", err)
	}

	log.Info("shadow agent stopped", "stats", ag.Stats())
	return nil
}

// openJournal wraps db in a journal repository and applies retention.
func openJournal(ctx context.Context, db *database.DB, retentionDays int, log *logging.Logger) journal.Repository {
	repo := journal.NewSQLiteRepository(db.DB)
	if retentionDays <= 0 {
		return repo
	}

	pruneCtx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed, err := repo.Prune(pruneCtx, cutoff)
	if err != nil {
		log.Warn("journal prune failed", "error", err)
		return repo
	}
	log.Info("journal pruned", "removed", removed, "retention_days", retentionDays)
	return repo
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Journal database (nil if disabled)
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
