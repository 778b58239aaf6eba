package logging_test

import (
	"context"
	"testing"
	"time"

	"github.com/Route-Sim/VISTA-sub000/logging"
	"github.com/Route-Sim/VISTA-sub000/logging/sinks"
)

func newMemoryRouter(t *testing.T, cfg logging.Config) (*logging.Router, *sinks.MemorySink) {
	t.Helper()
	memory := sinks.NewMemorySink()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	router := logging.NewRouter(logging.ClockFunc(func() time.Time { return fixed }), cfg, []logging.NamedSink{{Name: "memory", Sink: memory}})
	return router, memory
}

func closeRouter(t *testing.T, router *logging.Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close router: %v", err)
	}
}

func TestRouterDeliversToSinks(t *testing.T) {
	router, memory := newMemoryRouter(t, logging.Config{MinimumSeverity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "test.event", Tick: 7, Severity: logging.SeverityInfo})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Tick != 7 {
		t.Fatalf("expected tick 7, got %d", events[0].Tick)
	}
	if events[0].Time.IsZero() {
		t.Fatalf("expected router to stamp the event time")
	}
	if stats := router.Stats(); stats.EventsTotal != 1 {
		t.Fatalf("expected 1 routed event, got %d", stats.EventsTotal)
	}
}

func TestRouterFiltersBySeverity(t *testing.T) {
	router, memory := newMemoryRouter(t, logging.Config{MinimumSeverity: logging.SeverityWarn})
	router.Publish(context.Background(), logging.Event{Type: "debug.event", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "warn.event", Severity: logging.SeverityWarn})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 || events[0].Type != "warn.event" {
		t.Fatalf("expected only the warning to pass, got %+v", events)
	}
}

func TestRouterMergesFieldsWithoutOverriding(t *testing.T) {
	router, memory := newMemoryRouter(t, logging.Config{Fields: map[string]any{"service": "mirror", "tick": "router"}})
	router.Publish(context.Background(), logging.Event{
		Type:     "field.event",
		Severity: logging.SeverityInfo,
		Extra:    map[string]any{"tick": "event"},
	})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Extra["service"] != "mirror" {
		t.Fatalf("expected router field to be merged, got %v", events[0].Extra)
	}
	if events[0].Extra["tick"] != "event" {
		t.Fatalf("event field must win over router field, got %v", events[0].Extra["tick"])
	}
}

func TestRouterIgnoresPublishAfterClose(t *testing.T) {
	router, memory := newMemoryRouter(t, logging.Config{})
	closeRouter(t, router)
	router.Publish(context.Background(), logging.Event{Type: "late.event", Severity: logging.SeverityError})
	if len(memory.Events()) != 0 {
		t.Fatalf("expected no events after close")
	}
	if err := router.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestRouterResolvesSinksByName(t *testing.T) {
	memory := sinks.NewMemorySink()
	router := logging.NewRouter(nil, logging.Config{}, []logging.NamedSink{
		{Name: "disabled"},
		{Name: "memory", Sink: memory},
	})
	defer closeRouter(t, router)

	if router.Sink("memory") != logging.Sink(memory) {
		t.Fatalf("expected the memory sink by name")
	}
	if router.Sink("disabled") != nil || router.Sink("console") != nil {
		t.Fatalf("nil and unknown sinks must not resolve")
	}
	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityError})
	if stats := router.Stats(); stats.EventsTotal != 0 || stats.DroppedTotal != 0 {
		t.Fatalf("untyped events must be ignored, got %+v", stats)
	}
}

func TestWithFields(t *testing.T) {
	var captured logging.Event
	base := logging.PublisherFunc(func(_ context.Context, event logging.Event) { captured = event })
	pub := logging.WithFields(base, map[string]any{"conn": "c1"})
	original := logging.Event{Type: "x", Extra: map[string]any{"keep": true}}
	pub.Publish(context.Background(), original)

	if captured.Extra["conn"] != "c1" || captured.Extra["keep"] != true {
		t.Fatalf("unexpected extra %v", captured.Extra)
	}
	if _, leaked := original.Extra["conn"]; leaked {
		t.Fatalf("WithFields must not mutate the caller's event")
	}
	if logging.WithFields(nil, nil) == nil {
		t.Fatalf("expected a nop publisher for nil input")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]logging.Severity{
		"debug":   logging.SeverityDebug,
		"INFO":    logging.SeverityInfo,
		"":        logging.SeverityInfo,
		"warning": logging.SeverityWarn,
		"error":   logging.SeverityError,
	}
	for raw, want := range cases {
		got, err := logging.ParseSeverity(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s, got %s", raw, want, got)
		}
	}
	if _, err := logging.ParseSeverity("loud"); err == nil {
		t.Fatalf("expected error for unknown severity")
	}
}
