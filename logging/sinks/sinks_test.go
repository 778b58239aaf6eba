package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Route-Sim/VISTA-sub000/logging"
)

func sampleEvent() logging.Event {
	return logging.Event{
		Type:      "network.reconnect_scheduled",
		Tick:      12,
		Time:      time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Actor:     logging.EntityRef{ID: "c1", Kind: logging.EntityKindConnection},
		Severity:  logging.SeverityWarn,
		Category:  logging.CategoryNetwork,
		Payload:   map[string]int{"attempt": 2},
		Extra:     map[string]any{"url": "ws://example"},
		RequestID: "r1",
	}
}

func TestConsoleSinkFormatsEvent(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf, logging.ConsoleConfig{})
	if err := sink.Write(sampleEvent()); err != nil {
		t.Fatalf("write: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"[network.reconnect_scheduled]", "tick=12", "severity=warn", "actor=connection:c1", "request=r1", `payload={"attempt":2}`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestJSONSinkWritesOneRecordPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	if err := sink.Write(sampleEvent()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(sampleEvent()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["severity"] != "warn" || record["requestId"] != "r1" || record["time"] != "2024-05-06T07:08:09Z" {
		t.Fatalf("unexpected record %v", record)
	}
}

func TestMemorySinkFiltersAndResets(t *testing.T) {
	sink := NewMemorySink()
	sink.Write(sampleEvent())
	sink.Write(logging.Event{Type: "other"})
	if got := len(sink.EventsOfType("network.reconnect_scheduled")); got != 1 {
		t.Fatalf("expected 1 matching event, got %d", got)
	}
	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Fatalf("expected reset to clear events")
	}
}

func TestZapSinkMapsSeverity(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink, err := NewZap(zap.New(core))
	if err != nil {
		t.Fatalf("new zap sink: %v", err)
	}
	if err := sink.Write(sampleEvent()); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entry.Level)
	}
	if entry.Message != "network.reconnect_scheduled" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
	fields := entry.ContextMap()
	if fields["requestId"] != "r1" || fields["url"] != "ws://example" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestBuild(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.EnabledSinks = []string{NameConsole, NameMemory, NameJSON}
	named, closer, err := Build(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer closer()
	if len(named) != 3 {
		t.Fatalf("expected 3 sinks, got %d", len(named))
	}
	for _, n := range named {
		n.Sink.Close(context.Background())
	}

	cfg.EnabledSinks = []string{"carrier-pigeon"}
	if _, _, err := Build(cfg, nil); err == nil {
		t.Fatalf("expected unknown sink to fail")
	}
}
