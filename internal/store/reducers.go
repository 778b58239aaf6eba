package store

import (
	"fmt"

	"github.com/Route-Sim/VISTA-sub000/internal/movement"
	"github.com/Route-Sim/VISTA-sub000/internal/net/proto"
	"github.com/Route-Sim/VISTA-sub000/internal/sim"
	"github.com/Route-Sim/VISTA-sub000/logging"
)

// Reducers replace slices and maps on entities instead of mutating them,
// since committed snapshots share them with the draft.

func payloadAs[T any](event *Event) (T, error) {
	data, ok := event.Data.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("store: %s carries %T", event.Signal, event.Data)
	}
	return data, nil
}

func reduceSimulationStarted(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.TickRateData](event)
	if err != nil {
		return err
	}
	draft.Clock.Running = true
	draft.Clock.Paused = false
	if data.TickRate > 0 {
		draft.Clock.TickRate = data.TickRate
	}
	return nil
}

func reduceSimulationStopped(draft *sim.Draft, _ *Event) error {
	draft.Clock.Running = false
	draft.Clock.Paused = false
	return nil
}

func reduceSimulationPaused(draft *sim.Draft, _ *Event) error {
	draft.Clock.Paused = true
	return nil
}

func reduceSimulationResumed(draft *sim.Draft, _ *Event) error {
	draft.Clock.Running = true
	draft.Clock.Paused = false
	return nil
}

func reduceTickRate(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.TickRateData](event)
	if err != nil {
		return err
	}
	draft.Clock.TickRate = data.TickRate
	return nil
}

// reduceMapCreated installs a new road network. Agents and packages belong
// to the old network and are dropped with it.
func reduceMapCreated(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.MapData](event)
	if err != nil {
		return err
	}
	draft.World = worldFromMap(data)
	return nil
}

func reduceStateSnapshot(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.StateData](event)
	if err != nil {
		return err
	}
	world := worldFromMap(&data.MapData)
	for i := range data.Agents {
		agent := applyAgent(world, sim.Agent{ID: sim.AgentID(data.Agents[i].ID), Kind: sim.AgentKindUnknown}, &data.Agents[i])
		world.Agents[agent.ID] = agent
	}
	for i := range data.Packages {
		pkg := applyPackage(sim.Package{ID: sim.PackageID(data.Packages[i].ID), Status: sim.PackageWaiting}, &data.Packages[i])
		world.Packages[pkg.ID] = pkg
	}
	draft.World = world
	draft.Tick = data.Tick
	draft.Clock = sim.SimClock{
		SimSeconds: data.Time,
		Day:        data.Day,
		TickRate:   data.TickRate,
		Running:    data.Running,
		Paused:     data.Paused,
	}
	return nil
}

func worldFromMap(data *proto.MapData) sim.World {
	world := sim.NewWorld()
	for _, node := range data.Nodes {
		world.Nodes[sim.NodeID(node.ID)] = sim.Node{ID: sim.NodeID(node.ID), X: node.X, Y: node.Y}
	}
	for _, edge := range data.Edges {
		world.Edges[sim.EdgeID(edge.ID)] = sim.Edge{
			ID:            sim.EdgeID(edge.ID),
			From:          sim.NodeID(edge.From),
			To:            sim.NodeID(edge.To),
			LengthM:       edge.LengthM,
			SpeedLimitKph: edge.SpeedLimitKph,
			Lanes:         edge.Lanes,
		}
	}
	for i := range data.Buildings {
		b := applyBuilding(sim.Building{ID: sim.BuildingID(data.Buildings[i].ID), Kind: sim.BuildingKindUnknown}, &data.Buildings[i])
		world.Buildings[b.ID] = b
	}
	return world
}

func reduceAgentUpsert(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.AgentData](event)
	if err != nil {
		return err
	}
	id := sim.AgentID(data.ID)
	agent, ok := draft.World.Agents[id]
	if !ok {
		agent = sim.Agent{ID: id, Kind: sim.AgentKindUnknown}
	}
	draft.World.Agents[id] = applyAgent(draft.World, agent, data)
	return nil
}

func reduceAgentUpdated(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.AgentData](event)
	if err != nil {
		return err
	}
	id := sim.AgentID(data.ID)
	agent, ok := draft.World.Agents[id]
	if !ok {
		if err := event.Missing(logging.EntityKindAgent, data.ID); err != nil {
			return err
		}
		agent = sim.Agent{ID: id, Kind: sim.AgentKindUnknown}
	}
	draft.World.Agents[id] = applyAgent(draft.World, agent, data)
	return nil
}

func reduceAgentDeleted(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.AgentRef](event)
	if err != nil {
		return err
	}
	id := sim.AgentID(data.ID)
	if _, ok := draft.World.Agents[id]; !ok {
		if event.Strict {
			return event.Missing(logging.EntityKindAgent, data.ID)
		}
		return nil
	}
	delete(draft.World.Agents, id)
	for bid, building := range draft.World.Buildings {
		if occupants, changed := without(building.Occupants, id); changed {
			building.Occupants = occupants
			draft.World.Buildings[bid] = building
		}
	}
	return nil
}

// applyAgent merges the fields present in data into agent.
func applyAgent(world sim.World, agent sim.Agent, data *proto.AgentData) sim.Agent {
	if data.Kind != nil {
		agent.Kind = sim.AgentKind(*data.Kind)
	}
	switch {
	case data.CurrentEdge != nil && *data.CurrentEdge != "":
		edge := sim.EdgeID(*data.CurrentEdge)
		progress := 0.0
		if agent.Location.Edge == edge {
			progress = agent.Location.ProgressM
		}
		if data.EdgeProgressM != nil {
			progress = *data.EdgeProgressM
		}
		if length, ok := world.EdgeLength(edge); ok {
			progress = movement.Clamp(progress, 0, length)
		}
		agent.Location = sim.OnEdge(edge, progress)
	case data.CurrentNode != nil && *data.CurrentNode != "":
		agent.Location = sim.AtNode(sim.NodeID(*data.CurrentNode))
	}
	if data.SpeedKph != nil {
		agent.SpeedKph = *data.SpeedKph
	}
	if data.Route != nil {
		agent.Route = sim.NodeIDs(*data.Route)
	}
	if data.Cargo != nil {
		agent.Cargo = sim.PackageIDs(*data.Cargo)
	}
	if data.Tags != nil {
		tags := make(map[string]string, len(data.Tags))
		for k, v := range data.Tags {
			tags[k] = v
		}
		agent.Tags = tags
	}
	return agent
}

func reduceBuildingUpdated(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.BuildingData](event)
	if err != nil {
		return err
	}
	id := sim.BuildingID(data.ID)
	building, ok := draft.World.Buildings[id]
	if !ok {
		if err := event.Missing(logging.EntityKindBuilding, data.ID); err != nil {
			return err
		}
		building = sim.Building{ID: id, Kind: sim.BuildingKindUnknown}
	}
	draft.World.Buildings[id] = applyBuilding(building, data)
	return nil
}

func applyBuilding(building sim.Building, data *proto.BuildingData) sim.Building {
	if data.Kind != nil {
		building.Kind = sim.BuildingKind(*data.Kind)
	}
	if data.NodeID != nil {
		building.NodeID = sim.NodeID(*data.NodeID)
	}
	if data.Capacity != nil {
		building.Capacity = *data.Capacity
	}
	if data.Occupants != nil {
		building.Occupants = sim.AgentIDs(*data.Occupants)
	}
	return building
}

func reducePackageCreated(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.PackageData](event)
	if err != nil {
		return err
	}
	id := sim.PackageID(data.ID)
	pkg, ok := draft.World.Packages[id]
	if !ok {
		pkg = sim.Package{ID: id, Status: sim.PackageWaiting, CreatedTick: event.Tick}
	}
	draft.World.Packages[id] = applyPackage(pkg, data)
	return nil
}

func reducePackageUpdated(draft *sim.Draft, event *Event) error {
	data, err := payloadAs[*proto.PackageData](event)
	if err != nil {
		return err
	}
	id := sim.PackageID(data.ID)
	pkg, ok := draft.World.Packages[id]
	if !ok {
		if err := event.Missing(logging.EntityKindPackage, data.ID); err != nil {
			return err
		}
		pkg = sim.Package{ID: id, Status: sim.PackageWaiting}
	}
	draft.World.Packages[id] = applyPackage(pkg, data)
	return nil
}

func applyPackage(pkg sim.Package, data *proto.PackageData) sim.Package {
	if data.Origin != nil {
		pkg.Origin = sim.BuildingID(*data.Origin)
	}
	if data.Destination != nil {
		pkg.Destination = sim.BuildingID(*data.Destination)
	}
	if data.Status != nil {
		pkg.Status = sim.PackageStatus(*data.Status)
	}
	if data.Carrier != nil {
		pkg.Carrier = sim.AgentID(*data.Carrier)
	}
	if data.Priority != nil {
		pkg.Priority = *data.Priority
	}
	if data.CreatedTick != nil {
		pkg.CreatedTick = *data.CreatedTick
	}
	if data.DeadlineTick != nil {
		pkg.DeadlineTick = *data.DeadlineTick
	}
	return pkg
}

// reducePackageTerminal moves a package into a final status and takes it out
// of its carrier's cargo.
func reducePackageTerminal(status sim.PackageStatus) Reducer {
	return func(draft *sim.Draft, event *Event) error {
		data, err := payloadAs[*proto.PackageEvent](event)
		if err != nil {
			return err
		}
		id := sim.PackageID(data.ID)
		pkg, ok := draft.World.Packages[id]
		if !ok {
			if err := event.Missing(logging.EntityKindPackage, data.ID); err != nil {
				return err
			}
			pkg = sim.Package{ID: id}
		}
		carrier := pkg.Carrier
		if data.Carrier != "" {
			carrier = sim.AgentID(data.Carrier)
		}
		pkg.Status = status
		pkg.Carrier = ""
		draft.World.Packages[id] = pkg

		if agent, ok := draft.World.Agents[carrier]; ok {
			if cargo, changed := without(agent.Cargo, id); changed {
				agent.Cargo = cargo
				draft.World.Agents[carrier] = agent
			}
		}
		return nil
	}
}

// without returns ids minus target as a new slice.
func without[T comparable](ids []T, target T) ([]T, bool) {
	idx := -1
	for i, id := range ids {
		if id == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ids, false
	}
	out := make([]T, 0, len(ids)-1)
	out = append(out, ids[:idx]...)
	out = append(out, ids[idx+1:]...)
	return out, true
}
