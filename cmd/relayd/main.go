// relayd drives a bank of relays on a remote XBee board.
//
// Commands arrive over the REST API and MQTT and are sent to the board as
// short ASCII payloads. The board reports its monitored inputs as IO
// samples, which are reconciled into the relay registry and fanned out to
// MQTT state topics, SQLite history and InfluxDB.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/relay-core/migrations"

	"github.com/nerrad567/relay-core/internal/api"
	"github.com/nerrad567/relay-core/internal/bridges/relaymqtt"
	"github.com/nerrad567/relay-core/internal/bridges/xbee"
	"github.com/nerrad567/relay-core/internal/dispatch"
	"github.com/nerrad567/relay-core/internal/infrastructure/config"
	"github.com/nerrad567/relay-core/internal/infrastructure/database"
	"github.com/nerrad567/relay-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/relay-core/internal/infrastructure/logging"
	"github.com/nerrad567/relay-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/relay-core/internal/metrics"
	"github.com/nerrad567/relay-core/internal/relay"
	"github.com/nerrad567/relay-core/internal/serialbridge"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

const (
	// persistTimeout bounds each repository write made by a registry listener.
	persistTimeout = 5 * time.Second

	transportPollInterval = 5 * time.Second
	historyPruneInterval  = 24 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled.
// Deferred cleanups run in reverse order of startup.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting relayd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	remote, err := xbee.ParseAddress64(cfg.XBee.RemoteAddress)
	if err != nil {
		return fmt.Errorf("parsing xbee.remote_address: %w", err)
	}

	db, err := database.Open(ctx, database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	history := relay.NewSQLiteHistoryRepository(db.DB)
	registry, err := buildRegistry(ctx, db, history, cfg.Relays, log)
	if err != nil {
		return err
	}
	// Listeners write to the database; let them finish before it closes.
	defer registry.Flush()
	log.Info("relay registry initialised", "relays", registry.Count())

	if retention := cfg.GetHistoryRetention(); retention > 0 {
		go pruneHistory(ctx, history, retention, log)
	}

	checks := map[string]api.HealthChecker{
		"database": db,
	}

	if cfg.XBee.Bridge.Managed {
		supervisor, bridgeErr := startSerialBridge(ctx, cfg.XBee, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting serial bridge: %w", bridgeErr)
		}
		defer func() {
			if stopErr := supervisor.Stop(); stopErr != nil {
				log.Error("error stopping serial bridge", "error", stopErr)
			}
		}()
		checks["serial_bridge"] = supervisor
	}

	radio, err := xbee.Connect(ctx, xbee.Config{
		Connection:        cfg.XBee.Connection,
		Escaped:           cfg.XBee.APIMode == 2,
		SendTimeout:       cfg.GetSendTimeout(),
		ConnectTimeout:    cfg.GetConnectTimeout(),
		ReconnectInterval: cfg.GetReconnectInterval(),
		MaxPayload:        cfg.XBee.MaxPayload,
	})
	if err != nil {
		return fmt.Errorf("connecting to radio: %w", err)
	}
	defer func() {
		log.Info("closing radio link")
		if closeErr := radio.Close(); closeErr != nil {
			log.Error("error closing radio link", "error", closeErr)
		}
	}()
	radio.SetLogger(log)
	log.Info("radio connected",
		"connection", cfg.XBee.Connection,
		"api_mode", cfg.XBee.APIMode,
		"remote", remote.String(),
	)
	go monitorTransport(ctx, radio, log)

	dispatcher := dispatch.New(registry, radio, dispatch.Config{
		Remote:        remote,
		BatchCommands: cfg.XBee.BatchCommands,
	})
	dispatcher.SetLogger(log)

	checks["xbee"] = radio

	influxClient, err := connectInfluxDB(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		wireTelemetry(registry, dispatcher, influxClient)
		checks["influxdb"] = influxClient
	}

	if cfg.MQTT.Enabled {
		mqttClient, bridge, mqttErr := startMQTT(ctx, cfg, dispatcher, radio, remote, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			Security: cfg.Security,
			Logger:   log,
			Manager:  dispatcher,
			History:  history,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns RELAYD_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("RELAYD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildRegistry loads stored relays, seeds the configured ones that are not
// stored yet, and attaches persistence and history listeners. Seeded relays
// are persisted before it returns.
func buildRegistry(ctx context.Context, db *database.DB, history relay.HistoryRepository, seeds []config.RelayConfig, log *logging.Logger) (*relay.Registry, error) {
	registry := relay.NewRegistry()
	registry.SetLogger(log)

	repo := relay.NewSQLiteRepository(db.DB)
	if _, err := registry.Load(ctx, repo); err != nil {
		return nil, fmt.Errorf("loading relay registry: %w", err)
	}

	registry.Subscribe(relay.PersistTo(repo, log, persistTimeout))
	registry.Subscribe(relay.RecordTo(history, log, persistTimeout))

	seeded, err := seedRelays(registry, seeds)
	if err != nil {
		return nil, err
	}
	if seeded > 0 {
		log.Info("relays seeded from config", "count", seeded)
	}
	registry.Flush()
	return registry, nil
}

// seedRelays adds each configured relay whose number is not registered.
// Registered relays keep their stored pin, channel and label.
func seedRelays(registry *relay.Registry, seeds []config.RelayConfig) (int, error) {
	added := 0
	for _, s := range seeds {
		channel, err := relay.ParseMonitorChannel(s.Channel)
		if err != nil {
			return added, fmt.Errorf("seeding relay %d: %w", s.Number, err)
		}
		rel, err := relay.New(s.Number, s.Pin, channel, s.Label)
		if err != nil {
			return added, fmt.Errorf("seeding relay %d: %w", s.Number, err)
		}
		if err := registry.Add(rel); err != nil {
			if errors.Is(err, relay.ErrAlreadyRegistered) {
				continue
			}
			return added, fmt.Errorf("seeding relay %d: %w", s.Number, err)
		}
		added++
	}
	return added, nil
}

// startSerialBridge runs the configured serial bridge daemon and waits
// until it serves the radio connection.
func startSerialBridge(ctx context.Context, cfg config.XBeeConfig, log *logging.Logger) (*serialbridge.Supervisor, error) {
	network, address, err := endpoint(cfg.Connection)
	if err != nil {
		return nil, err
	}

	supervisor := serialbridge.New(serialbridge.Config{
		Binary:             cfg.Bridge.Binary,
		Args:               cfg.Bridge.Args,
		Network:            network,
		Address:            address,
		RestartDelay:       time.Duration(cfg.Bridge.RestartDelay) * time.Second,
		MaxRestartAttempts: cfg.Bridge.MaxRestartAttempts,
		ReadyTimeout:       time.Duration(cfg.Bridge.ReadyTimeout) * time.Second,
	})
	supervisor.SetLogger(log)

	if err := supervisor.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("serial bridge ready", "binary", cfg.Bridge.Binary, "address", address)
	return supervisor, nil
}

// endpoint splits a tcp:// or unix:// connection URL into the network and
// address to dial.
func endpoint(connection string) (network, address string, err error) {
	u, err := url.Parse(connection)
	if err != nil {
		return "", "", fmt.Errorf("parsing xbee.connection: %w", err)
	}
	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return "", "", fmt.Errorf("xbee.connection %q has no host", connection)
		}
		return "tcp", u.Host, nil
	case "unix":
		if u.Path == "" {
			return "", "", fmt.Errorf("xbee.connection %q has no socket path", connection)
		}
		return "unix", u.Path, nil
	default:
		return "", "", fmt.Errorf("xbee.connection %q: unsupported scheme %q", connection, u.Scheme)
	}
}

// connectInfluxDB returns nil without error when InfluxDB is disabled.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// telemetryWriter is the subset of *influxdb.Client fed by wireTelemetry.
type telemetryWriter interface {
	WriteRelayStatus(change influxdb.StatusChange)
	WriteCommand(send influxdb.CommandSend)
}

// wireTelemetry writes every status change and command send to w.
func wireTelemetry(registry *relay.Registry, dispatcher *dispatch.Dispatcher, w telemetryWriter) {
	registry.Subscribe(func(ev relay.Event) {
		if ev.Kind != relay.EventStatus {
			return
		}
		w.WriteRelayStatus(influxdb.StatusChange{
			Number:   ev.Relay.Number(),
			Label:    ev.Relay.Label(),
			Channel:  ev.Relay.Channel().String(),
			Status:   ev.Relay.Status().String(),
			Previous: ev.Previous.String(),
			On:       ev.Relay.Status() == relay.StatusOn,
			Time:     ev.Time,
		})
	})

	dispatcher.SetOnCommand(func(rec dispatch.CommandRecord) {
		w.WriteCommand(influxdb.CommandSend{
			Command: rec.Command.String(),
			Mode:    rec.Mode,
			Payload: rec.Payload,
			Outcome: rec.Outcome,
			Elapsed: rec.Elapsed,
			Time:    rec.Time,
		})
	})
}

// startMQTT connects to the broker and starts the relay bridge.
func startMQTT(ctx context.Context, cfg *config.Config, dispatcher *dispatch.Dispatcher, radio *xbee.Client, remote xbee.Address64, log *logging.Logger) (*mqtt.Client, *relaymqtt.Bridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge, err := relaymqtt.NewBridge(relaymqtt.Options{
		Manager:    dispatcher,
		MQTTClient: client,
		Topics:     client.Topics(),
		QoS:        client.QoS(),
		Transport:  radio,
		Remote:     remote,
		Version:    version,
		Logger:     log,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating MQTT bridge: %w", err)
	}

	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		bridge.PublishAllStates()
		if pubErr := bridge.PublishHealth(); pubErr != nil {
			log.Warn("publishing health after reconnect failed", "error", pubErr)
		}
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := bridge.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	return client, bridge, nil
}

// linkState reports whether the radio link is up.
type linkState interface {
	IsConnected() bool
}

// monitorTransport mirrors the radio link state into the
// relayd_transport_connected gauge and logs transitions.
func monitorTransport(ctx context.Context, link linkState, log *logging.Logger) {
	ticker := time.NewTicker(transportPollInterval)
	defer ticker.Stop()

	was := updateTransportGauge(link)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := updateTransportGauge(link)
			switch {
			case was && !now:
				log.Warn("radio link lost")
			case !was && now:
				log.Info("radio link restored")
			}
			was = now
		}
	}
}

func updateTransportGauge(link linkState) bool {
	connected := link.IsConnected()
	if connected {
		metrics.TransportConnected.Set(1)
	} else {
		metrics.TransportConnected.Set(0)
	}
	return connected
}

// historyPruner deletes old status history.
type historyPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneHistory prunes once at startup and then daily until ctx is done.
func pruneHistory(ctx context.Context, p historyPruner, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := p.Prune(ctx, retention)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				log.Error("pruning status history failed", "error", err)
			}
		case n > 0:
			log.Info("status history pruned", "deleted", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthCheck runs every check and returns the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
