// Package config loads the posture-sensor YAML configuration.
//
// Load parses the file, applies POSTURE_* environment overrides (see LoadEnv
// for .env files) and fills defaults. Watch reloads the file on change; the
// composition root uses it to hot-update the posture threshold.
package config
