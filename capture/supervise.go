package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrRetriesExhausted is returned by Supervise when the source keeps failing.
var ErrRetriesExhausted = errors.New("capture: max restarts exceeded")

// RestartConfig configures exponential backoff restarts.
type RestartConfig struct {
	MaxRetries   int           // 0 disables restarts
	InitialDelay time.Duration // default 1s
	MaxDelay     time.Duration // default 30s
}

// DefaultRestartConfig returns 5 retries, 1s initial delay, 30s cap.
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Supervise runs src.Start and restarts it after runtime errors with
// exponential backoff.
//
// Backoff schedule: delay = InitialDelay * 2^(attempt-1), capped at MaxDelay.
// A session that delivered frames resets the attempt counter.
//
// Returns nil when the source ends by EOS, Stop or ctx cancellation, the
// last *CaptureError when restarts are disabled, and an error wrapping both
// ErrRetriesExhausted and the last failure when retries run out. Init and
// ErrAlreadyRunning errors are returned as is.
func Supervise(ctx context.Context, src Source, cfg RestartConfig) error {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 1 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}

	attempt := 0
	for {
		before := src.Stats().FramesDelivered
		err := src.Start(ctx)
		if err == nil {
			return nil
		}

		var capErr *CaptureError
		if !errors.As(err, &capErr) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if cfg.MaxRetries == 0 {
			return err
		}

		if src.Stats().FramesDelivered > before {
			attempt = 0
		}
		attempt++

		if attempt > cfg.MaxRetries {
			return fmt.Errorf("%w (%d attempts): %w", ErrRetriesExhausted, cfg.MaxRetries, err)
		}

		delay := backoff(attempt, cfg)
		slog.Warn("capture: restarting source",
			"attempt", attempt,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"category", capErr.Category.String(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Info("capture: context cancelled during restart backoff")
			return nil
		}
	}
}

// backoff returns InitialDelay * 2^(attempt-1), capped at MaxDelay.
func backoff(attempt int, cfg RestartConfig) time.Duration {
	if attempt > 30 {
		return cfg.MaxDelay
	}
	delay := cfg.InitialDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return delay
}
