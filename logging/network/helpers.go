package network

import (
	"context"

	"github.com/Route-Sim/VISTA-sub000/logging"
)

const (
	// EventReconnectScheduled is emitted when the transport arms its reconnect timer.
	EventReconnectScheduled logging.EventType = "network.reconnect_scheduled"
	// EventTransportError is emitted when the socket reports an error.
	EventTransportError logging.EventType = "network.transport_error"
	// EventFrameDropped is emitted when an inbound frame fails to decode.
	EventFrameDropped logging.EventType = "network.frame_dropped"
	// EventRequestFailed is emitted when a correlated request ends without its signal.
	EventRequestFailed logging.EventType = "network.request_failed"
)

// ReconnectPayload captures the scheduled retry.
type ReconnectPayload struct {
	Attempt     int   `json:"attempt"`
	DelayMillis int64 `json:"delayMillis"`
	CloseCode   int   `json:"closeCode,omitempty"`
}

// TransportErrorPayload describes a socket failure.
type TransportErrorPayload struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

// FrameDroppedPayload describes an undecodable inbound frame.
type FrameDroppedPayload struct {
	Reason string `json:"reason"`
	Bytes  int    `json:"bytes"`
}

// RequestFailedPayload describes a request that timed out, was rejected or abandoned.
type RequestFailedPayload struct {
	Action         string `json:"action"`
	ExpectedSignal string `json:"expectedSignal,omitempty"`
	Reason         string `json:"reason"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryNetwork
	pub.Publish(ctx, event)
}

// ReconnectScheduled publishes an info event when a reconnect is pending.
func ReconnectScheduled(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ReconnectPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventReconnectScheduled,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Payload:  payload,
		Extra:    extra,
	})
}

// TransportError publishes a warning for a socket error.
func TransportError(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload TransportErrorPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventTransportError,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Payload:  payload,
		Extra:    extra,
	})
}

// FrameDropped publishes a debug event for a malformed inbound frame.
func FrameDropped(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload FrameDroppedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:     EventFrameDropped,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Payload:  payload,
		Extra:    extra,
	})
}

// RequestFailed publishes a warning for a request that did not resolve.
func RequestFailed(ctx context.Context, pub logging.Publisher, requestID string, payload RequestFailedPayload, extra map[string]any) {
	publish(ctx, pub, logging.Event{
		Type:      EventRequestFailed,
		Actor:     logging.EntityRef{ID: requestID, Kind: logging.EntityKindRequest},
		Severity:  logging.SeverityWarn,
		Payload:   payload,
		Extra:     extra,
		RequestID: requestID,
	})
}
