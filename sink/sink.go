// Package sink consumes posture records from the output queue.
//
// A Reader polls the queue on its own goroutine and hands each record to a
// Sink: the log, an MQTT broker, WebSocket clients or several of them via
// Fanout.
package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nasti-l/movement-tracker/processor"
)

// Sink receives records. Publish is called from one goroutine at a time.
type Sink interface {
	Publish(rec processor.Record) error
	Close() error
}

// Encoding is a record wire format.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding parses an encoding name. Empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack:
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("sink: unknown encoding %q (must be json or msgpack)", s)
	}
}

// Encode serializes rec.
func (e Encoding) Encode(rec processor.Record) ([]byte, error) {
	switch e {
	case EncodingJSON, "":
		return json.Marshal(rec)
	case EncodingMsgpack:
		return msgpack.Marshal(rec)
	default:
		return nil, fmt.Errorf("sink: unknown encoding %q", e)
	}
}

// Decode is the inverse of Encode.
func (e Encoding) Decode(data []byte) (processor.Record, error) {
	var rec processor.Record
	var err error
	switch e {
	case EncodingJSON, "":
		err = json.Unmarshal(data, &rec)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &rec)
	default:
		err = fmt.Errorf("sink: unknown encoding %q", e)
	}
	return rec, err
}

// LogSink writes every record to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink logs to logger, or slog.Default() when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(rec processor.Record) error {
	s.logger.Info("posture",
		"timestamp", rec.Timestamp,
		"accel_y", rec.AccelY,
		"posture", rec.Posture,
		"head_y", rec.HeadY,
		"frame_seq", rec.FrameSeq,
		"trace_id", rec.TraceID,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// FuncSink adapts a function to Sink.
type FuncSink func(rec processor.Record) error

func (f FuncSink) Publish(rec processor.Record) error { return f(rec) }

func (f FuncSink) Close() error { return nil }

type fanout []Sink

// Fanout publishes each record to every sink. A failing sink does not stop
// delivery to the others; the errors are joined.
func Fanout(sinks ...Sink) Sink {
	return fanout(sinks)
}

func (f fanout) Publish(rec processor.Record) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
