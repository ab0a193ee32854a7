package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment overrides. Secrets belong here rather than in the YAML file.
const (
	EnvMQTTBroker   = "POSTURE_MQTT_BROKER"
	EnvMQTTUsername = "POSTURE_MQTT_USERNAME"
	EnvMQTTPassword = "POSTURE_MQTT_PASSWORD"
	EnvThreshold    = "POSTURE_THRESHOLD"
	EnvLogLevel     = "POSTURE_LOG_LEVEL"
	EnvCameraDevice = "POSTURE_CAMERA_DEVICE"
)

// LoadEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("config: env file not found, skipping", "file", f)
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
		slog.Debug("config: env file loaded", "file", f)
	}
	return nil
}

// ApplyEnv overrides cfg fields from the environment. lookup is usually
// os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvMQTTBroker); ok && v != "" {
		cfg.Sinks.MQTT.Broker = v
	}
	if v, ok := lookup(EnvMQTTUsername); ok {
		cfg.Sinks.MQTT.Username = v
	}
	if v, ok := lookup(EnvMQTTPassword); ok {
		cfg.Sinks.MQTT.Password = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvCameraDevice); ok && v != "" {
		cfg.Camera.Device = v
	}
	if v, ok := lookup(EnvThreshold); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvThreshold, err)
		}
		cfg.Posture.Threshold = t
	}
	return nil
}
