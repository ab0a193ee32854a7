package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/nasti-l/movement-tracker/processor"
)

func sampleRecord(seq uint64) processor.Record {
	return processor.Record{
		Timestamp: 1700000000.25,
		AccelY:    -9.1,
		Posture:   processor.PostureSlouching,
		HeadY:     140.5,
		FrameSeq:  seq,
		TraceID:   "trace-1",
	}
}

func TestEncodingRoundTrip(t *testing.T) {
	for _, enc := range []Encoding{EncodingJSON, EncodingMsgpack} {
		t.Run(string(enc), func(t *testing.T) {
			want := sampleRecord(3)
			data, err := enc.Encode(want)
			if err != nil {
				t.Fatalf("Encode() failed: %v", err)
			}
			got, err := enc.Decode(data)
			if err != nil {
				t.Fatalf("Decode() failed: %v", err)
			}
			if got != want {
				t.Errorf("round trip = %+v, want %+v", got, want)
			}
		})
	}
}

func TestEncodingJSONFieldNames(t *testing.T) {
	data, err := EncodingJSON.Encode(sampleRecord(1))
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, key := range []string{"timestamp", "accel_y", "posture", "head_y", "frame_seq", "trace_id"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
	if m["posture"] != "slouching" {
		t.Errorf("posture = %v", m["posture"])
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in      string
		want    Encoding
		wantErr bool
	}{
		{"", EncodingJSON, false},
		{"json", EncodingJSON, false},
		{"MsgPack", EncodingMsgpack, false},
		{"protobuf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseEncoding(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := s.Publish(sampleRecord(9)); err != nil {
		t.Fatalf("Publish() = %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"msg":"posture"`, `"posture":"slouching"`, `"frame_seq":9`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}

func TestFanout(t *testing.T) {
	var a, b []uint64
	boom := errors.New("boom")

	f := Fanout(
		FuncSink(func(r processor.Record) error { a = append(a, r.FrameSeq); return nil }),
		FuncSink(func(processor.Record) error { return boom }),
		FuncSink(func(r processor.Record) error { b = append(b, r.FrameSeq); return nil }),
	)

	err := f.Publish(sampleRecord(1))
	if !errors.Is(err, boom) {
		t.Errorf("Publish() = %v, want joined boom", err)
	}
	if len(a) != 1 || len(b) != 1 {
		t.Errorf("delivered a=%v b=%v, want one each", a, b)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
