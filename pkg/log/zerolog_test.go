package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestZerologAdapterJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "debug", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Debug("dispatched", String("node", "posts/count"), Int("changes", 2), Bool("nested", false),
		Duration("took", time.Millisecond), Err(errors.New("boom")))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["message"] != "dispatched" || line["level"] != "debug" {
		t.Fatalf("unexpected line: %v", line)
	}
	if line["node"] != "posts/count" || line["changes"].(float64) != 2 || line["error"] != "boom" {
		t.Fatalf("missing fields: %v", line)
	}
}

func TestZerologAdapterLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", buf.String())
	}
	l.Warn("shown")
	if buf.Len() == 0 {
		t.Fatalf("expected warn output")
	}
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(nil, "loud", "json"); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New(nil, "info", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Fatalf("expected noop fallback")
	}
}
