package lifecycle

import (
	"context"

	"github.com/Route-Sim/VISTA-sub000/logging"
)

const (
	// EventConnectionOpened is emitted when the socket finishes its handshake.
	EventConnectionOpened logging.EventType = "lifecycle.connection_opened"
	// EventConnectionClosed is emitted when the socket closes for any reason.
	EventConnectionClosed logging.EventType = "lifecycle.connection_closed"
)

// ConnectionOpenedPayload captures the dialled endpoint.
type ConnectionOpenedPayload struct {
	URL string `json:"url"`
}

// ConnectionClosedPayload captures why the socket closed.
type ConnectionClosedPayload struct {
	Code     int    `json:"code"`
	Reason   string `json:"reason,omitempty"`
	Explicit bool   `json:"explicit"`
}

// ConnectionOpened publishes a connection open event.
func ConnectionOpened(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionOpenedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	event := logging.Event{
		Type:     EventConnectionOpened,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}

// ConnectionClosed publishes a connection close event. Unexpected closes are
// reported as warnings.
func ConnectionClosed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload ConnectionClosedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	severity := logging.SeverityWarn
	if payload.Explicit {
		severity = logging.SeverityInfo
	}
	event := logging.Event{
		Type:     EventConnectionClosed,
		Actor:    actor,
		Severity: severity,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
		Extra:    extra,
	}
	pub.Publish(ctx, event)
}
