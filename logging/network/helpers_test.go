package network

import (
	"context"
	"testing"

	"github.com/Route-Sim/VISTA-sub000/logging"
)

func TestHelpersSetCategoryAndSeverity(t *testing.T) {
	var events []logging.Event
	pub := logging.PublisherFunc(func(_ context.Context, event logging.Event) { events = append(events, event) })
	ctx := context.Background()
	conn := logging.EntityRef{ID: "c1", Kind: logging.EntityKindConnection}

	ReconnectScheduled(ctx, pub, conn, ReconnectPayload{Attempt: 1, DelayMillis: 500}, nil)
	TransportError(ctx, pub, conn, TransportErrorPayload{Op: "read", Error: "eof"}, nil)
	FrameDropped(ctx, pub, conn, FrameDroppedPayload{Reason: "malformed", Bytes: 3}, nil)
	RequestFailed(ctx, pub, "r1", RequestFailedPayload{Action: "simulation.start", Reason: "timeout"}, nil)
	ReconnectScheduled(ctx, nil, conn, ReconnectPayload{}, nil)

	want := []struct {
		eventType logging.EventType
		severity  logging.Severity
	}{
		{EventReconnectScheduled, logging.SeverityInfo},
		{EventTransportError, logging.SeverityWarn},
		{EventFrameDropped, logging.SeverityDebug},
		{EventRequestFailed, logging.SeverityWarn},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		if events[i].Type != w.eventType || events[i].Severity != w.severity {
			t.Fatalf("event %d: expected %s/%s, got %s/%s", i, w.eventType, w.severity, events[i].Type, events[i].Severity)
		}
		if events[i].Category != logging.CategoryNetwork {
			t.Fatalf("event %d: expected network category, got %q", i, events[i].Category)
		}
	}
	if events[3].RequestID != "r1" {
		t.Fatalf("expected request id on request failure")
	}
}
