package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete posture-sensor configuration
type Config struct {
	InstanceID       string          `yaml:"instance_id"`
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Log              LogConfig       `yaml:"log"`
	Camera           CameraConfig    `yaml:"camera"`
	Restart          RestartConfig   `yaml:"restart"`
	Posture          PostureConfig   `yaml:"posture"`
	Processor        ProcessorConfig `yaml:"processor"`
	Output           OutputConfig    `yaml:"output"`
	Sinks            SinksConfig     `yaml:"sinks"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// CameraConfig contains capture settings
type CameraConfig struct {
	Source      string     `yaml:"source"`       // v4l2src, videotestsrc, mocksrc
	Device      string     `yaml:"device"`       // /dev/video0
	PreviewSink string     `yaml:"preview_sink"` // appsink (no preview), autovideosink, ...
	Format      string     `yaml:"format"`       // rgb, yuy2
	Width       int        `yaml:"width"`
	Height      int        `yaml:"height"`
	FPS         float64    `yaml:"fps"`        // 0 keeps the device rate
	MaxFrames   int        `yaml:"max_frames"` // 0 = unlimited
	Mock        MockConfig `yaml:"mock"`
}

// MockConfig drives the synthetic source used with -mock or source: mocksrc
type MockConfig struct {
	Pattern   string `yaml:"pattern"` // uniform, gradient
	Value     uint8  `yaml:"value"`
	FailAfter int    `yaml:"fail_after"`
}

// RestartConfig controls capture restarts after runtime errors
type RestartConfig struct {
	MaxRetries     int `yaml:"max_retries"`      // 0 disables restarts
	InitialDelayMS int `yaml:"initial_delay_ms"` // default 1000
	MaxDelayMS     int `yaml:"max_delay_ms"`     // default 30000
}

// PostureConfig contains the posture policy settings
type PostureConfig struct {
	Threshold    float64 `yaml:"threshold"`     // hot-reloadable
	HeadFraction float64 `yaml:"head_fraction"` // default 1/3
	AccelMin     float64 `yaml:"accel_min"`
	AccelMax     float64 `yaml:"accel_max"`
	Seed         int64   `yaml:"seed"`
}

// QueueConfig bounds a queue; capacity 0 means unbounded
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"` // drop_oldest, drop_newest, block
}

// ProcessorConfig contains processor settings
type ProcessorConfig struct {
	FrameQueue        QueueConfig `yaml:"frame_queue"`
	DropPendingOnStop bool        `yaml:"drop_pending_on_stop"`
	CadenceWindow     int         `yaml:"cadence_window"`
}

// OutputConfig contains output queue and reader settings
type OutputConfig struct {
	Queue          QueueConfig `yaml:"queue"`
	PollIntervalMS int         `yaml:"poll_interval_ms"` // default 10
}

// SinksConfig selects record consumers
type SinksConfig struct {
	Log       bool            `yaml:"log"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"` // prefer POSTURE_MQTT_PASSWORD
	Topic    string `yaml:"topic"`    // default posture/<instance_id>
	QoS      byte   `yaml:"qos"`
	Retained bool   `yaml:"retained"`
	Encoding string `yaml:"encoding"` // json, msgpack
}

// WebSocketConfig contains the record stream server settings
type WebSocketConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Listen       string `yaml:"listen"` // default :8080
	Path         string `yaml:"path"`   // default /records
	Encoding     string `yaml:"encoding"`
	ClientBuffer int    `yaml:"client_buffer"`
}

// Load reads and parses a YAML configuration file, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML without validating it. Unknown keys are rejected;
// empty input yields the zero Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
