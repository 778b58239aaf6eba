package proto

import "sort"

// Action names understood by the server.
const (
	ActionSimulationStart  = "simulation.start"
	ActionSimulationStop   = "simulation.stop"
	ActionSimulationPause  = "simulation.pause"
	ActionSimulationResume = "simulation.resume"
	ActionTickRateUpdate   = "tick_rate.update"
	ActionMapCreate        = "map.create"
	ActionAgentCreate      = "agent.create"
	ActionAgentUpdate      = "agent.update"
	ActionAgentDelete      = "agent.delete"
	ActionAgentDescribe    = "agent.describe"
	ActionStateRequest     = "state.request"
)

// Signal names emitted by the server.
const (
	SignalTickStart         = "tick.start"
	SignalTickEnd           = "tick.end"
	SignalSimulationStarted = "simulation.started"
	SignalSimulationStopped = "simulation.stopped"
	SignalSimulationPaused  = "simulation.paused"
	SignalSimulationResumed = "simulation.resumed"
	SignalTickRateUpdated   = "tick_rate.updated"
	SignalMapCreated        = "map.created"
	SignalStateSnapshot     = "state.snapshot"
	SignalAgentCreated      = "agent.created"
	SignalAgentUpdated      = "agent.updated"
	SignalAgentDeleted      = "agent.deleted"
	SignalAgentDescribed    = "agent.described"
	SignalBuildingUpdated   = "building.updated"
	SignalPackageCreated    = "package.created"
	SignalPackageUpdated    = "package.updated"
	SignalPackageDelivered  = "package.delivered"
	SignalPackageExpired    = "package.expired"
	SignalError             = "error"
)

type actionSpec struct {
	signal string
	params func() Payload
}

// actions maps every outbound action to its parameter type and the signal
// that confirms it.
var actions = map[string]actionSpec{
	ActionSimulationStart:  {signal: SignalSimulationStarted, params: func() Payload { return &SimulationStartParams{} }},
	ActionSimulationStop:   {signal: SignalSimulationStopped, params: func() Payload { return &Empty{} }},
	ActionSimulationPause:  {signal: SignalSimulationPaused, params: func() Payload { return &Empty{} }},
	ActionSimulationResume: {signal: SignalSimulationResumed, params: func() Payload { return &Empty{} }},
	ActionTickRateUpdate:   {signal: SignalTickRateUpdated, params: func() Payload { return &TickRateParams{} }},
	ActionMapCreate:        {signal: SignalMapCreated, params: func() Payload { return &MapCreateParams{} }},
	ActionAgentCreate:      {signal: SignalAgentCreated, params: func() Payload { return &AgentCreateParams{} }},
	ActionAgentUpdate:      {signal: SignalAgentUpdated, params: func() Payload { return &AgentUpdateParams{} }},
	ActionAgentDelete:      {signal: SignalAgentDeleted, params: func() Payload { return &AgentRefParams{} }},
	ActionAgentDescribe:    {signal: SignalAgentDescribed, params: func() Payload { return &AgentRefParams{} }},
	ActionStateRequest:     {signal: SignalStateSnapshot, params: func() Payload { return &Empty{} }},
}

// signals maps every inbound signal to its data type.
var signals = map[string]func() Payload{
	SignalTickStart:         func() Payload { return &TickStart{} },
	SignalTickEnd:           func() Payload { return &TickEnd{} },
	SignalSimulationStarted: func() Payload { return &TickRateData{} },
	SignalSimulationStopped: func() Payload { return &Empty{} },
	SignalSimulationPaused:  func() Payload { return &Empty{} },
	SignalSimulationResumed: func() Payload { return &Empty{} },
	SignalTickRateUpdated:   func() Payload { return &TickRateData{} },
	SignalMapCreated:        func() Payload { return &MapData{} },
	SignalStateSnapshot:     func() Payload { return &StateData{} },
	SignalAgentCreated:      func() Payload { return &AgentData{} },
	SignalAgentUpdated:      func() Payload { return &AgentData{} },
	SignalAgentDeleted:      func() Payload { return &AgentRef{} },
	SignalAgentDescribed:    func() Payload { return &AgentData{} },
	SignalBuildingUpdated:   func() Payload { return &BuildingData{} },
	SignalPackageCreated:    func() Payload { return &PackageData{} },
	SignalPackageUpdated:    func() Payload { return &PackageData{} },
	SignalPackageDelivered:  func() Payload { return &PackageEvent{} },
	SignalPackageExpired:    func() Payload { return &PackageEvent{} },
	SignalError:             func() Payload { return &ErrorData{} },
}

// ExpectedSignal returns the signal confirming successful completion of the
// given action.
func ExpectedSignal(action string) (string, bool) {
	spec, ok := actions[action]
	if !ok {
		return "", false
	}
	return spec.signal, true
}

// KnownAction reports whether the action is part of the protocol.
func KnownAction(action string) bool {
	_, ok := actions[action]
	return ok
}

// KnownSignal reports whether the signal is part of the protocol.
func KnownSignal(signal string) bool {
	_, ok := signals[signal]
	return ok
}

// Actions lists every registered action in lexical order.
func Actions() []string {
	return sortedKeys(actions)
}

// Signals lists every registered signal in lexical order.
func Signals() []string {
	return sortedKeys(signals)
}

// NewParams returns a zero parameter block for the action.
func NewParams(action string) (Payload, bool) {
	spec, ok := actions[action]
	if !ok {
		return nil, false
	}
	return spec.params(), true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
