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
	"syscall"
	"time"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/sdcc_node/internal/adapters/host"
	"github.com/LeonardoBeccarini/sdcc_node/internal/adapters/sim"
	"github.com/LeonardoBeccarini/sdcc_node/internal/config"
	"github.com/LeonardoBeccarini/sdcc_node/internal/metrics"
	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
	"github.com/LeonardoBeccarini/sdcc_node/internal/node"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
	"github.com/LeonardoBeccarini/sdcc_node/internal/services/bus"
	"github.com/LeonardoBeccarini/sdcc_node/internal/services/command"
	"github.com/LeonardoBeccarini/sdcc_node/internal/services/connectivity"
	"github.com/LeonardoBeccarini/sdcc_node/internal/services/status"
	"github.com/LeonardoBeccarini/sdcc_node/internal/services/telemetry"
	"github.com/LeonardoBeccarini/sdcc_node/internal/ticks"
	"github.com/LeonardoBeccarini/sdcc_node/pkg/dedup"
	"github.com/LeonardoBeccarini/sdcc_node/pkg/mqttbus"
)

func main() {
	configPath := flag.String("config", os.Getenv("NODE_CONFIG"), "path to the YAML configuration")
	simMode := flag.Bool("sim", false, "use simulated sensor, link and strip")
	flag.Parse()

	if err := run(*configPath, *simMode); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

type collaborators struct {
	link   ports.StationLink
	sensor ports.SensorReader
	strip  ports.ActuatorDriver
	adc    ports.ADC
}

func newCollaborators(cfg *config.Config, simMode bool, logger *slog.Logger) collaborators {
	strip := sim.NewStrip(cfg.Actuator.Pixels, logger)
	if simMode {
		return collaborators{
			link:   &sim.Station{},
			sensor: sim.NewTemperature(time.Now().UnixNano(), 0.5, 0),
			strip:  strip,
			adc:    sim.ADC{Raw: 3900},
		}
	}
	c := collaborators{
		link:   host.NewInterfaceLink(cfg.WiFi.Interface),
		sensor: host.NewThermalSensor(cfg.Telemetry.SensorKey),
		strip:  strip, // no pixel hardware on a generic host
	}
	if cfg.Telemetry.BatteryPath != "" {
		c.adc = host.FileADC{Path: cfg.Telemetry.BatteryPath}
	}
	return c
}

// startStatus serves the status mux and the gRPC health server. When it fails
// nothing is left listening; otherwise the returned func stops both.
func startStatus(httpAddr, grpcAddr string, h http.Handler, grpcSrv *grpc.Server, logger *slog.Logger) (func(), error) {
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("http listen %s: %w", httpAddr, err)
	}
	hs := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Status HTTP listening", "addr", httpLis.Addr().String())
		if err := hs.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()
	stopHTTP := func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shCtx)
	}

	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		stopHTTP()
		return nil, fmt.Errorf("grpc listen %s: %w", grpcAddr, err)
	}
	go func() {
		logger.Info("gRPC health listening", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil {
			logger.Error("gRPC server error", "err", err)
		}
	}()

	return func() {
		grpcSrv.GracefulStop()
		stopHTTP()
	}, nil
}

func run(configPath string, simMode bool) error {
	// === Config ===
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bootID := uuid.NewString()
	logger := config.NewLogger(cfg.Log, os.Stdout).With("boot_id", bootID)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := ticks.NewSystemClock()
	hw := newCollaborators(cfg, simMode, logger)

	// === Metrics / status ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	nodeMetrics := metrics.NewNode(reg)
	store := status.NewStore()

	grpcSrv := grpc.NewServer()
	healthSrv := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reporter := status.NewGRPCReporter(healthSrv)

	// === InfluxDB mirror (optional) ===
	var (
		mirror   *telemetry.InfluxMirror
		mirrorSt status.MirrorStatus
	)
	if cfg.Mirror.Enabled {
		opts := influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.Mirror.Timeout.Seconds() + 1))
		influx := influxdb2.NewClientWithOptions(cfg.Mirror.URL, cfg.Mirror.Token, opts)
		defer influx.Close()
		mirror = telemetry.NewInfluxMirror(influx.WriteAPIBlocking(cfg.Mirror.Org, cfg.Mirror.Bucket),
			telemetry.MirrorConfig{Timeout: cfg.Mirror.Timeout}, logger)
		mirrorSt = mirror
	}

	// === Node ===
	d := cfg.Actuator.Default
	initial := model.ActuatorState{R: d.R, G: d.G, B: d.B, Brightness: *d.Brightness}
	nc := model.NewNodeContext(initial, cfg.Telemetry.FilterSamples, *cfg.Telemetry.FilterEnabled, cfg.Health.ErrorThreshold)

	sup := connectivity.NewSupervisor(connectivity.Config{
		SSID:           cfg.WiFi.SSID,
		Password:       cfg.WiFi.Password,
		ConnectTimeout: cfg.WiFi.ConnectTimeout,
		MaxAttempts:    cfg.WiFi.MaxAttempts,
	}, hw.link, clock, logger)

	sess := bus.NewSession(bus.Config{
		Options: ports.BusOptions{
			ClientID:       cfg.MQTT.ClientID,
			Host:           cfg.MQTT.Broker,
			Port:           cfg.MQTT.Port,
			Username:       cfg.MQTT.User,
			Password:       cfg.MQTT.Password,
			KeepAlive:      cfg.MQTT.KeepAlive,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		},
		TelemetryTopic:    cfg.Topics.Telemetry,
		ControlTopic:      cfg.Topics.Control,
		QoS:               byte(cfg.MQTT.QoS),
		PingInterval:      cfg.MQTT.KeepAlive,
		ReconnectAttempts: cfg.MQTT.ReconnectAttempts,
		ReconnectTimeout:  cfg.MQTT.ConnectTimeout,
	}, mqttbus.NewDialer(logger), clock, logger)

	proc := command.NewProcessor(cfg.Topics.Control, hw.strip, dedup.New(cfg.Dedup.TTL, cfg.Dedup.Max), logger)

	pipe := telemetry.NewPipeline(telemetry.Config{
		Interval:       cfg.SampleInterval(),
		Offset:         cfg.Telemetry.CalibrationOffset,
		DeviceID:       cfg.MQTT.ClientID,
		IncludeBattery: cfg.Telemetry.IncludeBattery,
	}, hw.sensor, hw.adc, clock.Now(), logger)
	if mirror != nil {
		pipe.WithMirror(mirror)
	}

	sched := node.New(node.Config{
		HealthInterval: cfg.Health.CheckInterval,
		Tick:           cfg.Health.Tick,
	}, nc, clock, sup, sess, proc, pipe, logger).
		WithObserver(nodeMetrics).
		WithSinks(store, reporter).
		WithBootID(bootID)

	// === HTTP / gRPC ===
	stopStatus, err := startStatus(cfg.Status.HTTPAddr, cfg.Status.GRPCAddr, status.NewMux(store, mirrorSt, reg), grpcSrv, logger)
	if err != nil {
		return err
	}
	defer stopStatus()

	logger.Info("Starting node",
		"device_id", cfg.MQTT.ClientID,
		"ssid", cfg.WiFi.SSID,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker, cfg.MQTT.Port),
		"sample_interval", cfg.SampleInterval(),
		"pixels", cfg.Actuator.Pixels,
		"filter", *cfg.Telemetry.FilterEnabled,
		"filter_samples", cfg.Telemetry.FilterSamples,
		"calibration_offset", cfg.Telemetry.CalibrationOffset,
		"log_level", cfg.Log.Level,
		"sim", simMode,
	)

	if err := sched.Boot(ctx); err != nil {
		logger.Error("Boot failed", "err", err)
		sched.Shutdown()
		return err
	}
	sched.Run(ctx)
	sched.Shutdown()
	return nil
}
