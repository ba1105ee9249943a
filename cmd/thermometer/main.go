// Program thermometer reads the temperature from a thermistor in an RC timing circuit,
// lights an LED for the temperature band, and serves a web page with live readings and
// timed sampling sessions. Readings and finished sessions can also be recorded to MQTT,
// InfluxDB, and a local SQLite archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	cron "github.com/robfig/cron/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"periph.io/x/host/v3"

	"github.com/mtraver/rc-thermometer/cache"
	"github.com/mtraver/rc-thermometer/device"
	"github.com/mtraver/rc-thermometer/logging"
	"github.com/mtraver/rc-thermometer/measurement"
	"github.com/mtraver/rc-thermometer/mqttpub"
	"github.com/mtraver/rc-thermometer/sensor"
	"github.com/mtraver/rc-thermometer/sensor/dummy"
	"github.com/mtraver/rc-thermometer/session"
	"github.com/mtraver/rc-thermometer/station"
	"github.com/mtraver/rc-thermometer/store/influx"
	"github.com/mtraver/rc-thermometer/store/sqlite"
	"github.com/mtraver/rc-thermometer/web"
)

// Flags.
var (
	hw = device.DefaultConfig()

	deviceID  string
	cronSpec  string
	port      int
	grpcPort  int
	noLEDs    bool
	dryrun    bool
	logLevel  string
	logFormat string
	archive   bool

	mqttBroker      string
	mqttFormat      string
	mqttTopicPrefix string

	influxURL    string
	influxToken  string
	influxOrg    string
	influxBucket string
)

const (
	// Bounds one live reading including publishing it.
	senseTimeout = 10 * time.Second
	// A cached reading older than this isn't shown as current.
	latestTTL   = 5 * time.Second
	hookTimeout = 30 * time.Second
)

var (
	// This directory is where we'll store anything the program needs to persist. It's
	// joined with the user's home directory in init.
	dotDir = ".thermometer"

	// The directory in which to store MQTT messages that haven't been acknowledged,
	// e.g. because the network went down. It's used to configure an mqtt.NewFileStore.
	mqttStoreDir = path.Join(dotDir, "mqtt_store")

	archivePath = path.Join(dotDir, "sessions.db")
)

func init() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "thermometer"
	}

	hw.RegisterFlags(flag.CommandLine)

	flag.StringVar(&deviceID, "device", hostname, "device ID attached to readings")
	flag.StringVar(&cronSpec, "cronspec", "@every 1s", "cron spec that specifies when to take live readings")
	flag.IntVar(&port, "port", 8080, "port on which the device's web server should listen")
	flag.IntVar(&grpcPort, "grpc-port", 9090, "port for the gRPC health service, or 0 to disable it")
	flag.BoolVar(&noLEDs, "no-leds", false, "don't drive the LED bank")
	flag.BoolVar(&dryrun, "dryrun", false, "set to true to log rather than publish readings")
	flag.StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	flag.StringVar(&logFormat, "log-format", logging.FormatText, "text or json")
	flag.BoolVar(&archive, "archive", true, "keep finished sessions in a SQLite database in the dot directory")

	flag.StringVar(&mqttBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://localhost:1883; empty disables MQTT")
	flag.StringVar(&mqttFormat, "mqtt-format", mqttpub.FormatJSON, "MQTT payload encoding: json or proto")
	flag.StringVar(&mqttTopicPrefix, "mqtt-topic-prefix", "thermometer", "MQTT topic prefix")

	flag.StringVar(&influxURL, "influx-url", "", "InfluxDB server URL; empty disables InfluxDB")
	flag.StringVar(&influxToken, "influx-token", "", "InfluxDB API token")
	flag.StringVar(&influxOrg, "influx-org", "", "InfluxDB organization")
	flag.StringVar(&influxBucket, "influx-bucket", "thermometer", "InfluxDB bucket")

	// Update directory and file paths by joining them to the user's home directory.
	home, err := homedir.Dir()
	if err != nil {
		slog.Error("Failed to get home dir", "err", err)
		os.Exit(1)
	}
	dotDir = path.Join(home, dotDir)
	mqttStoreDir = path.Join(home, mqttStoreDir)
	archivePath = path.Join(home, archivePath)
}

func parseFlags() error {
	flag.Parse()

	if err := hw.Validate(); err != nil {
		return err
	}

	if deviceID == "" {
		return fmt.Errorf("device flag must be given")
	}

	if cronSpec == "" {
		return fmt.Errorf("cronspec flag must be given")
	}
	if _, err := cron.ParseStandard(cronSpec); err != nil {
		return fmt.Errorf("invalid cronspec: %v", err)
	}

	if _, err := logging.ParseLevel(logLevel); err != nil {
		return err
	}

	if mqttBroker != "" && mqttFormat != mqttpub.FormatJSON && mqttFormat != mqttpub.FormatProto {
		return fmt.Errorf("mqtt-format must be %s or %s", mqttpub.FormatJSON, mqttpub.FormatProto)
	}

	if influxURL != "" && (influxToken == "" || influxOrg == "") {
		return fmt.Errorf("influx-token and influx-org must be given with influx-url")
	}

	return nil
}

func main() {
	if err := parseFlags(); err != nil {
		fmt.Printf("argument error: %v\n", err)
		os.Exit(2)
	}

	level, _ := logging.ParseLevel(logLevel)
	logger, err := logging.New(os.Stderr, logFormat, level, "thermometer")
	if err != nil {
		fmt.Printf("argument error: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	// Make all directories required by the program.
	for _, dir := range []string{dotDir, mqttStoreDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			logger.Error("Failed to make dir", "dir", dir, "err", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Exiting", "err", err)
		stop()
		os.Exit(1)
	}
}

// run sets everything up and blocks until ctx is canceled or a server fails. All
// hardware is returned to its idle state before it returns.
func run(ctx context.Context, logger *slog.Logger) error {
	var indicator station.Indicator

	switch hw.Sensor {
	case device.SensorNTC:
		// Initialize periph.
		if _, err := host.Init(); err != nil {
			return fmt.Errorf("failed to initialize periph: %w", err)
		}

		s, err := hw.OpenSensor()
		if err != nil {
			return fmt.Errorf("failed to open RC circuit: %w", err)
		}
		sensor.Register(device.SensorNTC, s)

		if !noLEDs {
			bank, err := hw.OpenLEDs()
			if err != nil {
				return fmt.Errorf("failed to open LEDs: %w", err)
			}
			defer func() {
				if err := bank.Halt(); err != nil {
					logger.Error("Failed to turn off LEDs", "err", err)
				}
			}()
			indicator = bank
		}
	case device.SensorDummy:
		d := dummy.New()
		d.Logger = logger
		sensor.Register(device.SensorDummy, d)
	}

	station.SetupJob{Sensor: hw.Sensor, Logger: logger}.Run()
	defer station.ShutdownJob{Sensor: hw.Sensor, Logger: logger}.Run()

	var (
		sinks []station.Sink
		hooks []sessionHook
		store *sqlite.Store
	)

	if mqttBroker != "" {
		p, err := mqttpub.Connect(mqttpub.Config{
			Broker:      mqttBroker,
			ClientID:    "thermometer-" + deviceID,
			TopicPrefix: mqttTopicPrefix,
			StoreDir:    mqttStoreDir,
			Format:      mqttFormat,
		}, logger)
		if err != nil {
			return err
		}
		defer p.Disconnect(250 * time.Millisecond)

		sinks = append(sinks, p)
		hooks = append(hooks, sessionHook{p.Name(), func(ctx context.Context, res session.Result) error {
			return p.PublishSession(ctx, deviceID, res)
		}})
	}

	if influxURL != "" {
		db := influx.NewInfluxDB(influxURL, influxToken, influxOrg, influxBucket)
		defer db.Close()

		sinks = append(sinks, db)
		hooks = append(hooks, sessionHook{db.Name(), func(ctx context.Context, res session.Result) error {
			return db.SaveSession(ctx, deviceID, res)
		}})
	}

	if archive {
		var err error
		store, err = sqlite.Open(ctx, archivePath, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		hooks = append(hooks, sessionHook{"sqlite", func(ctx context.Context, res session.Result) error {
			return store.SaveSession(ctx, deviceID, res)
		}})
	}

	latest := cache.New[measurement.Reading]()
	healthServer := health.NewServer()

	senseJob := station.SenseJob{
		DeviceID:  deviceID,
		Sensor:    hw.Sensor,
		Indicator: indicator,
		Cache:     latest,
		CacheTTL:  latestTTL,
		Sinks:     sinks,
		Timeout:   senseTimeout,
		Dryrun:    dryrun,
		Logger:    logger,
	}

	// Schedule live readings. A reading that overruns its slot delays the next one
	// instead of overlapping it.
	cronLogger := logging.CronLogger(logger)
	cr := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.DelayIfStillRunning(cronLogger)))
	logger.Info("Starting cron scheduler", "spec", cronSpec)
	if _, err := cr.AddJob(cronSpec, healthJob{SenseJob: senseJob, Health: healthServer}); err != nil {
		return fmt.Errorf("failed to schedule readings: %w", err)
	}

	runner := session.NewRunner(ctx, session.CronScheduler{Cron: cr, Logger: cronLogger}, senseJob.Read,
		logger.With("component", "session"))
	runner.OnComplete = func(res session.Result) {
		runHooks(ctx, logger, hooks, hookTimeout, res)
	}

	cr.Start()
	defer func() {
		<-cr.Stop().Done()
	}()

	errs := make(chan error, 2)

	// Start up a web server that shows readings and runs sessions.
	ws := web.Server{
		DeviceID: deviceID,
		Latest:   latest,
		Sessions: runner,
		Logger:   logger,
	}
	if store != nil {
		ws.Archive = store
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Serving HTTP", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("web server: %w", err)
		}
	}()

	if grpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", grpcPort))
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}

		gs := grpc.NewServer()
		healthpb.RegisterHealthServer(gs, healthServer)
		defer gs.GracefulStop()

		go func() {
			logger.Info("Serving gRPC health", "addr", lis.Addr().String())
			if err := gs.Serve(lis); err != nil {
				errs <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	logger.Info("Cleaning up...")
	healthServer.Shutdown()
	if runner.Status().Active {
		runner.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("Web server shutdown", "err", serr)
	}

	return err
}
