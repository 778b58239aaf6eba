package store

import (
	"errors"
	"fmt"

	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/sim"
	"github.com/Route-Sim/VISTA-sub000/logging"
)

// ErrUnknownEntity is returned in strict mode when a signal updates an
// entity the mirror has never seen.
var ErrUnknownEntity = errors.New("store: unknown entity")

// Event is the input handed to a reducer.
type Event struct {
	Signal string
	Tick   uint64
	TimeMs int64
	Data   proto.Payload
	Strict bool

	synthesized []logging.EntityRef
}

// Missing is called by reducers that reference an absent entity. In strict
// mode it returns ErrUnknownEntity; otherwise it records the synthesis and
// the reducer fills in defaults.
func (e *Event) Missing(kind logging.EntityKind, id string) error {
	if e.Strict {
		return fmt.Errorf("%w: %s %q in %s", ErrUnknownEntity, kind, id, e.Signal)
	}
	e.synthesized = append(e.synthesized, logging.EntityRef{ID: id, Kind: kind})
	return nil
}

// Synthesized lists the entities materialised while reducing the event.
func (e *Event) Synthesized() []logging.EntityRef {
	return e.synthesized
}

// Reducer applies one signal to the working draft.
type Reducer func(draft *sim.Draft, event *Event) error

type entry struct {
	reduce     Reducer
	structural bool
}

// Registry maps signal names to reducers.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register installs reducer for signal, replacing any previous one.
func (r *Registry) Register(signal string, reducer Reducer) {
	r.entries[signal] = entry{reduce: reducer}
}

// RegisterStructural installs a reducer whose signal replaces the topology.
// The store commits immediately after it runs.
func (r *Registry) RegisterStructural(signal string, reducer Reducer) {
	r.entries[signal] = entry{reduce: reducer, structural: true}
}

// Lookup returns the reducer for signal.
func (r *Registry) Lookup(signal string) (reducer Reducer, structural bool, ok bool) {
	e, ok := r.entries[signal]
	return e.reduce, e.structural, ok
}

// DefaultRegistry wires a reducer for every domain signal of the protocol.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(proto.SignalSimulationStarted, reduceSimulationStarted)
	r.Register(proto.SignalSimulationStopped, reduceSimulationStopped)
	r.Register(proto.SignalSimulationPaused, reduceSimulationPaused)
	r.Register(proto.SignalSimulationResumed, reduceSimulationResumed)
	r.Register(proto.SignalTickRateUpdated, reduceTickRate)
	r.RegisterStructural(proto.SignalMapCreated, reduceMapCreated)
	r.RegisterStructural(proto.SignalStateSnapshot, reduceStateSnapshot)
	r.Register(proto.SignalAgentCreated, reduceAgentUpsert)
	r.Register(proto.SignalAgentDescribed, reduceAgentUpsert)
	r.Register(proto.SignalAgentUpdated, reduceAgentUpdated)
	r.Register(proto.SignalAgentDeleted, reduceAgentDeleted)
	r.Register(proto.SignalBuildingUpdated, reduceBuildingUpdated)
	r.Register(proto.SignalPackageCreated, reducePackageCreated)
	r.Register(proto.SignalPackageUpdated, reducePackageUpdated)
	r.Register(proto.SignalPackageDelivered, reducePackageTerminal(sim.PackageDelivered))
	r.Register(proto.SignalPackageExpired, reducePackageTerminal(sim.PackageExpired))
	return r
}
