package config

import (
	"time"

	"github.com/nasti-l/movement-tracker/capture"
	"github.com/nasti-l/movement-tracker/internal/logging"
	"github.com/nasti-l/movement-tracker/processor"
	"github.com/nasti-l/movement-tracker/queue"
	"github.com/nasti-l/movement-tracker/sink"
)

// The helpers below assume a validated Config: parse errors are ignored.

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}

// CaptureConfig returns the source configuration. OnError is left for the
// caller.
func (c *Config) CaptureConfig() capture.Config {
	format, _ := capture.ParsePixelFormat(c.Camera.Format)
	return capture.Config{
		Name:        c.InstanceID,
		SourceStage: c.Camera.Source,
		DevicePath:  c.Camera.Device,
		SinkStage:   c.Camera.PreviewSink,
		Format:      format,
		Width:       c.Camera.Width,
		Height:      c.Camera.Height,
		FPS:         c.Camera.FPS,
		MaxFrames:   c.Camera.MaxFrames,
	}
}

func (c *Config) MockConfig() capture.MockConfig {
	return capture.MockConfig{
		Pattern:   c.Camera.Mock.Pattern,
		Value:     c.Camera.Mock.Value,
		FailAfter: c.Camera.Mock.FailAfter,
	}
}

func (c *Config) RestartConfig() capture.RestartConfig {
	return capture.RestartConfig{
		MaxRetries:   c.Restart.MaxRetries,
		InitialDelay: time.Duration(c.Restart.InitialDelayMS) * time.Millisecond,
		MaxDelay:     time.Duration(c.Restart.MaxDelayMS) * time.Millisecond,
	}
}

func (c *Config) PolicyConfig() processor.PolicyConfig {
	return processor.PolicyConfig{
		HeadFraction: c.Posture.HeadFraction,
		Threshold:    c.Posture.Threshold,
		AccelMin:     c.Posture.AccelMin,
		AccelMax:     c.Posture.AccelMax,
		Seed:         c.Posture.Seed,
	}
}

func (c *Config) ProcessorConfig() processor.Config {
	return processor.Config{
		Name:              "processor",
		FrameQueue:        c.Processor.FrameQueue.queueConfig(),
		StopTimeout:       c.ShutdownTimeout(),
		DropPendingOnStop: c.Processor.DropPendingOnStop,
		CadenceWindow:     c.Processor.CadenceWindow,
	}
}

// OutputQueueConfig configures the record queue between processor and reader.
func (c *Config) OutputQueueConfig() queue.Config {
	return c.Output.Queue.queueConfig()
}

func (c *Config) ReaderConfig() sink.ReaderConfig {
	return sink.ReaderConfig{
		Name:         "reader",
		PollInterval: time.Duration(c.Output.PollIntervalMS) * time.Millisecond,
		StopTimeout:  c.ShutdownTimeout(),
	}
}

func (c *Config) MQTTConfig() sink.MQTTConfig {
	m := c.Sinks.MQTT
	enc, _ := sink.ParseEncoding(m.Encoding)
	return sink.MQTTConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Username: m.Username,
		Password: m.Password,
		Topic:    m.Topic,
		QoS:      m.QoS,
		Retained: m.Retained,
		Encoding: enc,
	}
}

func (c *Config) HubConfig() sink.HubConfig {
	enc, _ := sink.ParseEncoding(c.Sinks.WebSocket.Encoding)
	return sink.HubConfig{
		Encoding:     enc,
		ClientBuffer: c.Sinks.WebSocket.ClientBuffer,
	}
}

func (q QueueConfig) queueConfig() queue.Config {
	policy, _ := queue.ParsePolicy(q.Policy)
	return queue.Config{Capacity: q.Capacity, Policy: policy}
}
