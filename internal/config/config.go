package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sink kinds.
const (
	SinkHTTP = "http"
	SinkMQTT = "mqtt"
)

// Recorder kinds.
const (
	RecorderPostgres = "postgres"
	RecorderCSV      = "csv"
)

// Config is the service configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	HTTPAddr    string `yaml:"http_addr"`

	Auth AuthConfig `yaml:"auth"`

	Participants []string          `yaml:"participants"`
	Simulated    []string          `yaml:"simulated"`
	ExternalIDs  map[string]string `yaml:"external_ids"`
	ModelDir     string            `yaml:"model_dir"`

	ActionSpace      []int                      `yaml:"action_space"`
	DefaultSetpoints map[int]float64            `yaml:"default_setpoints"`
	DeviceSetpoints  map[string]map[int]float64 `yaml:"device_setpoints"`

	Trajectory TrajectoryConfig `yaml:"trajectory"`
	Control    ControlConfig    `yaml:"control"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	DeviceAPI  DeviceAPIConfig  `yaml:"device_api"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// AuthConfig holds API and ingest secrets.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	IngestSecret  string        `yaml:"ingest_secret"`
	IngestMaxSkew time.Duration `yaml:"ingest_max_skew"`
}

// TrajectoryConfig describes the baseline telemetry window.
type TrajectoryConfig struct {
	Length       int           `yaml:"length"`
	Interval     time.Duration `yaml:"interval"`
	WindowMargin int           `yaml:"window_margin"`
}

// ControlConfig holds the loop parameters.
type ControlConfig struct {
	Interval                  time.Duration `yaml:"interval"`
	BAUInterval               time.Duration `yaml:"bau_interval"`
	Kp                        float64       `yaml:"kp"`
	Ki                        float64       `yaml:"ki"`
	IntegralLimit             float64       `yaml:"integral_limit"`
	BaselineSetpointThreshold float64       `yaml:"baseline_setpoint_threshold"`
	LegacyDownFilter          bool          `yaml:"legacy_down_filter"`
	HandoffTimeout            time.Duration `yaml:"handoff_timeout"`
}

// DispatchConfig selects delivery and recording.
type DispatchConfig struct {
	Enabled       bool    `yaml:"enabled"`
	BackupEnabled bool    `yaml:"backup_enabled"`
	BackupBand    float64 `yaml:"backup_band"`
	Sink          string  `yaml:"sink"`
	Recorder      string  `yaml:"recorder"`
	CSVDir        string  `yaml:"csv_dir"`
}

// DeviceAPIConfig configures the vendor HTTP API.
type DeviceAPIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
}

// KafkaConfig configures the progress stream. Empty brokers disable it.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	ProgressTopic string   `yaml:"progress_topic"`
}

// NotifyConfig configures outcome notifications. An empty URL disables them.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		ModelDir:         "models",
		ActionSpace:      []int{0, 1},
		DefaultSetpoints: map[int]float64{0: 15, 1: 25},
		Auth: AuthConfig{
			IngestMaxSkew: 5 * time.Minute,
		},
		Trajectory: TrajectoryConfig{
			Length:       24,
			Interval:     15 * time.Minute,
			WindowMargin: 4,
		},
		Control: ControlConfig{
			Interval:                  time.Minute,
			BAUInterval:               time.Minute,
			Kp:                        0.5,
			BaselineSetpointThreshold: 20,
			HandoffTimeout:            30 * time.Second,
		},
		Dispatch: DispatchConfig{
			Enabled:       true,
			BackupEnabled: true,
			BackupBand:    1,
			Sink:          SinkHTTP,
			Recorder:      RecorderPostgres,
			CSVDir:        "dispatch_logs",
		},
		DeviceAPI: DeviceAPIConfig{Timeout: 10 * time.Second},
		MQTT: MQTTConfig{
			ClientID:    "dr-coordinator",
			TopicPrefix: "devices",
			Timeout:     5 * time.Second,
		},
		Kafka: KafkaConfig{ProgressTopic: "dr.event.progress"},
	}
}

// Load reads the YAML file named by DR_CONFIG, if any, over the defaults,
// applies environment overrides and validates the result.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("DR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.Auth.IngestSecret)
	cfg.DeviceAPI.BaseURL = getenvDefault("DEVICE_API_URL", cfg.DeviceAPI.BaseURL)
	cfg.DeviceAPI.Token = getenvDefault("DEVICE_API_TOKEN", cfg.DeviceAPI.Token)
	cfg.MQTT.Broker = getenvDefault("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.ModelDir = getenvDefault("MODEL_DIR", cfg.ModelDir)
	cfg.Notify.WebhookURL = getenvDefault("NOTIFY_WEBHOOK_URL", cfg.Notify.WebhookURL)
	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	if participants := splitCSV(os.Getenv("DR_PARTICIPANTS")); len(participants) > 0 {
		cfg.Participants = participants
	}
	if value := os.Getenv("DISPATCH_ENABLED"); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Dispatch.Enabled = parsed
		}
	}
}

// Validate checks required settings.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("config: DATABASE_URL or PG_DSN is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("config: AUTH_JWT_SECRET is required"))
	}
	if len(c.Participants) == 0 {
		errs = append(errs, errors.New("config: at least one participant is required"))
	}
	if len(c.ActionSpace) == 0 {
		errs = append(errs, errors.New("config: empty action space"))
	}
	if c.Trajectory.Length <= 0 {
		errs = append(errs, errors.New("config: trajectory length must be positive"))
	}
	if c.Control.Interval <= 0 || c.Control.BAUInterval <= 0 {
		errs = append(errs, errors.New("config: control intervals must be positive"))
	}
	switch c.Dispatch.Sink {
	case SinkHTTP:
		if c.Dispatch.Enabled && c.DeviceAPI.BaseURL == "" {
			errs = append(errs, errors.New("config: DEVICE_API_URL is required for the http sink"))
		}
	case SinkMQTT:
		if c.Dispatch.Enabled && c.MQTT.Broker == "" {
			errs = append(errs, errors.New("config: MQTT_BROKER is required for the mqtt sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown sink %q", c.Dispatch.Sink))
	}
	switch c.Dispatch.Recorder {
	case RecorderPostgres:
	case RecorderCSV:
		if c.Dispatch.CSVDir == "" {
			errs = append(errs, errors.New("config: csv_dir is required for the csv recorder"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown recorder %q", c.Dispatch.Recorder))
	}
	return errors.Join(errs...)
}

// SimulatedSet returns the simulated devices as a set.
func (c Config) SimulatedSet() map[string]bool {
	set := make(map[string]bool, len(c.Simulated))
	for _, id := range c.Simulated {
		set[id] = true
	}
	return set
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
