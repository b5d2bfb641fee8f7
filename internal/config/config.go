// Package config loads the node configuration from YAML with environment
// overrides for secrets and deployment values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/sdcc_node/internal/ports"
)

type Config struct {
	WiFi      WiFiConfig      `yaml:"wifi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Topics    TopicsConfig    `yaml:"topics"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Health    HealthConfig    `yaml:"health"`
	Log       LogConfig       `yaml:"log"`
	Status    StatusConfig    `yaml:"status"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Dedup     DedupConfig     `yaml:"dedup"`
}

type WiFiConfig struct {
	SSID           string        `yaml:"ssid"`
	Password       string        `yaml:"password"`
	Interface      string        `yaml:"interface"` // host mode only
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
}

type MQTTConfig struct {
	Broker            string        `yaml:"broker"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	ClientID          string        `yaml:"client_id"`
	QoS               int           `yaml:"qos"`
	KeepAlive         time.Duration `yaml:"keepalive_interval"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
}

type TopicsConfig struct {
	Telemetry string `yaml:"telemetry"`
	Control   string `yaml:"control"`
}

type ColorConfig struct {
	R          int      `yaml:"r"`
	G          int      `yaml:"g"`
	B          int      `yaml:"b"`
	Brightness *float64 `yaml:"brightness"`
}

type ActuatorConfig struct {
	Pin     int         `yaml:"pin"`
	Pixels  int         `yaml:"pixels"`
	Default ColorConfig `yaml:"default"`
}

type TelemetryConfig struct {
	SampleIntervalMs  int     `yaml:"sample_interval_ms"`
	FilterEnabled     *bool   `yaml:"filter_enabled"`
	FilterSamples     int     `yaml:"filter_samples"`
	CalibrationOffset float64 `yaml:"calibration_offset"`
	IncludeBattery    bool    `yaml:"include_battery"`
	SensorKey         string  `yaml:"sensor_key"`   // host mode: substring of the thermal sensor key
	BatteryPath       string  `yaml:"battery_path"` // host mode: sysfs file holding a raw reading
}

type HealthConfig struct {
	CheckInterval  time.Duration `yaml:"check_interval"`
	ErrorThreshold int           `yaml:"error_threshold"`
	Tick           time.Duration `yaml:"tick"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StatusConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type MirrorConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org"`
	Bucket  string        `yaml:"bucket"`
	Timeout time.Duration `yaml:"timeout"`
}

type DedupConfig struct {
	TTL time.Duration `yaml:"ttl"`
	Max int           `yaml:"max"`
}

// Load reads path, applies env overrides and defaults, then validates. An empty
// path loads from the environment alone. Every failure is a *ports.ConfigError.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &ports.ConfigError{Err: err}
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, &ports.ConfigError{Err: fmt.Errorf("parse %s: %w", path, err)}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if problems := cfg.validate(); len(problems) > 0 {
		return nil, &ports.ConfigError{Problems: problems}
	}
	return &cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (c *Config) applyEnv() {
	c.WiFi.SSID = envStr("WIFI_SSID", c.WiFi.SSID)
	c.WiFi.Password = envStr("WIFI_PASSWORD", c.WiFi.Password)
	c.MQTT.Broker = envStr("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Port = envInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.User = envStr("MQTT_USER", c.MQTT.User)
	c.MQTT.Password = envStr("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.ClientID = envStr("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.Log.Level = envStr("LOG_LEVEL", c.Log.Level)
	c.Mirror.Token = envStr("INFLUX_TOKEN", c.Mirror.Token)
}

func (c *Config) applyDefaults() {
	if c.WiFi.ConnectTimeout == 0 {
		c.WiFi.ConnectTimeout = 20 * time.Second
	}
	if c.WiFi.MaxAttempts == 0 {
		c.WiFi.MaxAttempts = 5
	}
	if c.WiFi.Interface == "" {
		c.WiFi.Interface = "wlan0"
	}

	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 30 * time.Second
	}
	if c.MQTT.ReconnectAttempts == 0 {
		c.MQTT.ReconnectAttempts = 5
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 20 * time.Second
	}

	if c.Topics.Telemetry == "" {
		c.Topics.Telemetry = "esp32/s3/temperature"
	}
	if c.Topics.Control == "" {
		c.Topics.Control = "esp32/s3/control"
	}

	if c.Actuator.Pixels == 0 {
		c.Actuator.Pixels = 1
	}
	if c.Actuator.Default.Brightness == nil {
		b := 0.5
		c.Actuator.Default.Brightness = &b
	}

	if c.Telemetry.SampleIntervalMs == 0 {
		c.Telemetry.SampleIntervalMs = 15000
	}
	if c.Telemetry.FilterEnabled == nil {
		on := true
		c.Telemetry.FilterEnabled = &on
	}
	if c.Telemetry.FilterSamples == 0 {
		c.Telemetry.FilterSamples = 5
	}

	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = 30 * time.Second
	}
	if c.Health.ErrorThreshold == 0 {
		c.Health.ErrorThreshold = 5
	}
	if c.Health.Tick == 0 {
		c.Health.Tick = 100 * time.Millisecond
	}

	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Status.HTTPAddr == "" {
		c.Status.HTTPAddr = ":8080"
	}
	if c.Status.GRPCAddr == "" {
		c.Status.GRPCAddr = ":9090"
	}

	if c.Mirror.Org == "" {
		c.Mirror.Org = "sdcc"
	}
	if c.Mirror.Bucket == "" {
		c.Mirror.Bucket = "node"
	}
	if c.Mirror.Timeout == 0 {
		c.Mirror.Timeout = 2 * time.Second
	}

	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = 10 * time.Minute
	}
	if c.Dedup.Max == 0 {
		c.Dedup.Max = 256
	}
}

func (c *Config) validate() []string {
	var p []string
	add := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }

	if c.WiFi.SSID == "" {
		add("wifi.ssid is required")
	}
	if c.WiFi.Password == "" {
		add("wifi.password is required")
	}
	if c.WiFi.MaxAttempts < 1 {
		add("wifi.max_attempts must be >= 1")
	}
	if c.MQTT.Broker == "" {
		add("mqtt.broker is required")
	}
	if c.MQTT.ClientID == "" {
		add("mqtt.client_id is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		add("mqtt.port %d out of range 1..65535", c.MQTT.Port)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		add("mqtt.qos %d out of range 0..2", c.MQTT.QoS)
	}
	if c.MQTT.KeepAlive < 0 {
		add("mqtt.keepalive_interval %s must not be negative", c.MQTT.KeepAlive)
	}
	if c.MQTT.ConnectTimeout < 0 {
		add("mqtt.connect_timeout %s must not be negative", c.MQTT.ConnectTimeout)
	}
	if c.WiFi.ConnectTimeout < 0 {
		add("wifi.connect_timeout %s must not be negative", c.WiFi.ConnectTimeout)
	}
	if c.MQTT.ReconnectAttempts < 1 {
		add("mqtt.reconnect_attempts must be >= 1")
	}
	if c.Actuator.Pixels < 1 {
		add("actuator.pixels must be >= 1")
	}
	d := c.Actuator.Default
	for i, v := range []int{d.R, d.G, d.B} {
		if v < 0 || v > 255 {
			add("actuator.default.%c %d out of range 0..255", "rgb"[i], v)
		}
	}
	if b := *d.Brightness; b < 0 || b > 1 {
		add("actuator.default.brightness %g out of range 0..1", b)
	}
	if c.Telemetry.SampleIntervalMs < 100 {
		add("telemetry.sample_interval_ms must be >= 100")
	}
	if c.Telemetry.FilterSamples < 1 {
		add("telemetry.filter_samples must be >= 1")
	}
	if c.Health.ErrorThreshold < 1 {
		add("health.error_threshold must be >= 1")
	}
	if c.Health.CheckInterval < 0 || c.Health.Tick < 0 {
		add("health intervals must be positive")
	}
	if _, ok := parseLevel(c.Log.Level); !ok {
		add("log.level %q not one of DEBUG, INFO, WARNING, ERROR", c.Log.Level)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format %q not one of text, json", c.Log.Format)
	}
	if c.Mirror.Enabled && c.Mirror.URL == "" {
		add("mirror.url is required when the mirror is enabled")
	}
	return p
}

// SampleInterval is the telemetry period as a duration.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Telemetry.SampleIntervalMs) * time.Millisecond
}
