package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nasti-l/movement-tracker/internal/config"
)

// WatchConfig applies changes to the file at path until ctx is done
func (s *Sensor) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, func(cfg *config.Config) {
		s.ApplyConfig(cfg)
	})
}

// ApplyConfig applies configuration changes without restarting. Only the
// posture threshold is hot-reloadable; other changes are logged and take
// effect on restart. It returns the applied changes.
func (s *Sensor) ApplyConfig(newCfg *config.Config) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []string

	oldThreshold := s.policy.Threshold()
	if newCfg.Posture.Threshold != oldThreshold {
		s.policy.SetThreshold(newCfg.Posture.Threshold)
		s.cfg.Posture.Threshold = newCfg.Posture.Threshold
		changes = append(changes, fmt.Sprintf("posture.threshold: %g → %g", oldThreshold, newCfg.Posture.Threshold))
	}

	if newCfg.Camera != s.cfg.Camera {
		slog.Warn("camera config change requires restart",
			"old", fmt.Sprintf("%+v", s.cfg.Camera),
			"new", fmt.Sprintf("%+v", newCfg.Camera),
		)
	}
	if newCfg.Sinks != s.cfg.Sinks {
		slog.Warn("sinks config change requires restart")
	}

	for _, change := range changes {
		slog.Info("config changed", "change", change)
	}
	return changes
}
