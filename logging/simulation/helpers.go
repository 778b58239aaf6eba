package simulation

import (
	"context"

	"github.com/Route-Sim/VISTA-sub000/logging"
)

const (
	// EventSnapshotCommitted is emitted when a snapshot enters the history buffer.
	EventSnapshotCommitted logging.EventType = "simulation.snapshot_committed"
	// EventTopologyReset is emitted when a structural signal replaces the world.
	EventTopologyReset logging.EventType = "simulation.topology_reset"
	// EventEntitySynthesized is emitted when an update names an entity the mirror has never seen.
	EventEntitySynthesized logging.EventType = "simulation.entity_synthesized"
	// EventReducerFailed is emitted when a reducer rejects or panics on a signal.
	EventReducerFailed logging.EventType = "simulation.reducer_failed"
)

// SnapshotCommittedPayload summarises a committed snapshot.
type SnapshotCommittedPayload struct {
	TimeMs    int64  `json:"timeMs"`
	Topology  uint64 `json:"topology"`
	Agents    int    `json:"agents"`
	Packages  int    `json:"packages"`
	History   int    `json:"history"`
	Evictions int    `json:"evictions,omitempty"`
}

// TopologyResetPayload describes the replaced world.
type TopologyResetPayload struct {
	Signal   string `json:"signal"`
	Topology uint64 `json:"topology"`
	Nodes    int    `json:"nodes"`
	Edges    int    `json:"edges"`
}

// EntitySynthesizedPayload names the signal that referenced the unknown entity.
type EntitySynthesizedPayload struct {
	Signal string `json:"signal"`
}

// ReducerFailedPayload carries the reducer error.
type ReducerFailedPayload struct {
	Signal string `json:"signal"`
	Error  string `json:"error"`
	Panic  bool   `json:"panic,omitempty"`
}

// SnapshotCommitted publishes a debug event for every commit.
func SnapshotCommitted(ctx context.Context, pub logging.Publisher, tick uint64, payload SnapshotCommittedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSnapshotCommitted,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityDebug,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// TopologyReset publishes an info event when the world is replaced.
func TopologyReset(ctx context.Context, pub logging.Publisher, tick uint64, payload TopologyResetPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTopologyReset,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityInfo,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// EntitySynthesized publishes a warning when defaults were filled in for an unknown entity.
func EntitySynthesized(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload EntitySynthesizedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventEntitySynthesized,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}

// ReducerFailed publishes an error event for a rejected signal.
func ReducerFailed(ctx context.Context, pub logging.Publisher, tick uint64, payload ReducerFailedPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventReducerFailed,
		Tick:     tick,
		Actor:    logging.EntityRef{Kind: logging.EntityKindWorld},
		Severity: logging.SeverityError,
		Category: logging.CategorySimulation,
		Payload:  payload,
		Extra:    extra,
	})
}
