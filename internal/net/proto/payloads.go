package proto

import (
	"errors"
	"fmt"
	"math"
)

// Payload is implemented by every typed action parameter block and signal
// data block registered with the codec.
type Payload interface {
	Validate() error
}

var errMissingID = errors.New("missing id")

func requireID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w", field, errMissingID)
	}
	return nil
}

func requireNonNegative(field string, value float64) error {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s must be a finite non-negative number, got %v", field, value)
	}
	return nil
}

func requireUnit(field string, value float64) error {
	if value < 0 || value > 1 || math.IsNaN(value) {
		return fmt.Errorf("%s must be within [0,1], got %v", field, value)
	}
	return nil
}

// Empty carries no fields.
type Empty struct{}

func (*Empty) Validate() error { return nil }

// ---- Action parameters ----

// SimulationStartParams starts the remote simulation, optionally at a tick rate.
type SimulationStartParams struct {
	TickRate float64 `json:"tick_rate,omitempty" jsonschema:"description=Ticks per second,minimum=0"`
}

func (p *SimulationStartParams) Validate() error {
	return requireNonNegative("tick_rate", p.TickRate)
}

// TickRateParams changes the tick rate of a running simulation.
type TickRateParams struct {
	TickRate float64 `json:"tick_rate" jsonschema:"description=Ticks per second,exclusiveMinimum=0,required"`
}

func (p *TickRateParams) Validate() error {
	if p.TickRate <= 0 || math.IsNaN(p.TickRate) || math.IsInf(p.TickRate, 0) {
		return fmt.Errorf("tick_rate must be positive, got %v", p.TickRate)
	}
	return nil
}

// MapCreateParams asks the server to generate a new road network.
type MapCreateParams struct {
	MapWidth          float64 `json:"map_width"`
	MapHeight         float64 `json:"map_height"`
	NumMajorCenters   int     `json:"num_major_centers,omitempty"`
	MinorPerMajor     float64 `json:"minor_per_major,omitempty"`
	CenterSeparation  float64 `json:"center_separation,omitempty"`
	UrbanSprawl       float64 `json:"urban_sprawl,omitempty"`
	LocalDensity      float64 `json:"local_density,omitempty"`
	RuralDensity      float64 `json:"rural_density,omitempty"`
	IntraConnectivity float64 `json:"intra_connectivity,omitempty"`
	InterConnectivity int     `json:"inter_connectivity,omitempty"`
	ArterialRatio     float64 `json:"arterial_ratio,omitempty"`
	Gridness          float64 `json:"gridness,omitempty"`
	RingRoadProb      float64 `json:"ring_road_prob,omitempty"`
	HighwayCurviness  float64 `json:"highway_curviness,omitempty"`
	Seed              int64   `json:"seed,omitempty"`
}

func (p *MapCreateParams) Validate() error {
	if p.MapWidth <= 0 || p.MapHeight <= 0 {
		return fmt.Errorf("map dimensions must be positive, got %vx%v", p.MapWidth, p.MapHeight)
	}
	if p.NumMajorCenters < 0 || p.InterConnectivity < 0 {
		return errors.New("center and connectivity counts must be non-negative")
	}
	for field, value := range map[string]float64{
		"intra_connectivity": p.IntraConnectivity,
		"arterial_ratio":     p.ArterialRatio,
		"gridness":           p.Gridness,
		"ring_road_prob":     p.RingRoadProb,
		"highway_curviness":  p.HighwayCurviness,
	} {
		if err := requireUnit(field, value); err != nil {
			return err
		}
	}
	for field, value := range map[string]float64{
		"minor_per_major":   p.MinorPerMajor,
		"center_separation": p.CenterSeparation,
		"urban_sprawl":      p.UrbanSprawl,
		"local_density":     p.LocalDensity,
		"rural_density":     p.RuralDensity,
	} {
		if err := requireNonNegative(field, value); err != nil {
			return err
		}
	}
	return nil
}

// AgentCreateParams spawns an agent at a node.
type AgentCreateParams struct {
	AgentID     string            `json:"agent_id" jsonschema:"required,minLength=1"`
	Kind        string            `json:"kind" jsonschema:"required,minLength=1"`
	NodeID      string            `json:"node_id,omitempty"`
	MaxSpeedKph float64           `json:"max_speed_kph,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (p *AgentCreateParams) Validate() error {
	if err := requireID("agent_id", p.AgentID); err != nil {
		return err
	}
	if p.Kind == "" {
		return errors.New("kind is required")
	}
	return requireNonNegative("max_speed_kph", p.MaxSpeedKph)
}

// AgentUpdateParams patches mutable agent settings.
type AgentUpdateParams struct {
	AgentID     string            `json:"agent_id" jsonschema:"required,minLength=1"`
	MaxSpeedKph *float64          `json:"max_speed_kph,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (p *AgentUpdateParams) Validate() error {
	if err := requireID("agent_id", p.AgentID); err != nil {
		return err
	}
	if p.MaxSpeedKph != nil {
		return requireNonNegative("max_speed_kph", *p.MaxSpeedKph)
	}
	return nil
}

// AgentRefParams addresses a single agent.
type AgentRefParams struct {
	AgentID string `json:"agent_id" jsonschema:"required,minLength=1"`
}

func (p *AgentRefParams) Validate() error {
	return requireID("agent_id", p.AgentID)
}

// ---- Signal data ----

// TickStart opens an authoritative tick.
type TickStart struct {
	Tick uint64  `json:"tick"`
	Time float64 `json:"time" jsonschema:"description=Simulation time in seconds"`
	Day  int     `json:"day,omitempty"`
}

func (d *TickStart) Validate() error {
	if d.Day < 0 {
		return fmt.Errorf("day must be non-negative, got %d", d.Day)
	}
	return requireNonNegative("time", d.Time)
}

// TickEnd closes an authoritative tick.
type TickEnd struct {
	Tick uint64 `json:"tick"`
}

func (*TickEnd) Validate() error { return nil }

// TickRateData reports the tick rate after a lifecycle change.
type TickRateData struct {
	TickRate float64 `json:"tick_rate"`
}

func (d *TickRateData) Validate() error {
	return requireNonNegative("tick_rate", d.TickRate)
}

// NodeData is the wire form of a road network node.
type NodeData struct {
	ID string  `json:"id" jsonschema:"required,minLength=1"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// EdgeData is the wire form of a road segment.
type EdgeData struct {
	ID            string  `json:"id" jsonschema:"required,minLength=1"`
	From          string  `json:"from" jsonschema:"required,minLength=1"`
	To            string  `json:"to" jsonschema:"required,minLength=1"`
	LengthM       float64 `json:"length_m,omitempty"`
	SpeedLimitKph float64 `json:"speed_limit_kph,omitempty"`
	Lanes         int     `json:"lanes,omitempty"`
}

// BuildingData is the wire form of a building. Pointer fields are optional
// in partial updates.
type BuildingData struct {
	ID        string    `json:"id" jsonschema:"required,minLength=1"`
	Kind      *string   `json:"kind,omitempty"`
	NodeID    *string   `json:"node_id,omitempty"`
	Capacity  *int      `json:"capacity,omitempty"`
	Occupants *[]string `json:"occupants,omitempty"`
}

func (d *BuildingData) Validate() error {
	if err := requireID("building id", d.ID); err != nil {
		return err
	}
	if d.Capacity != nil && *d.Capacity < 0 {
		return fmt.Errorf("building %s: negative capacity %d", d.ID, *d.Capacity)
	}
	return nil
}

// AgentData is the wire form of an agent. Pointer fields are optional so the
// same shape carries full creations and partial updates.
type AgentData struct {
	ID            string            `json:"id" jsonschema:"required,minLength=1"`
	Kind          *string           `json:"kind,omitempty"`
	CurrentNode   *string           `json:"current_node,omitempty"`
	CurrentEdge   *string           `json:"current_edge,omitempty"`
	EdgeProgressM *float64          `json:"edge_progress_m,omitempty"`
	SpeedKph      *float64          `json:"current_speed_kph,omitempty"`
	Route         *[]string         `json:"route,omitempty"`
	Cargo         *[]string         `json:"cargo,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

func (d *AgentData) Validate() error {
	if err := requireID("agent id", d.ID); err != nil {
		return err
	}
	if d.CurrentNode != nil && *d.CurrentNode != "" && d.CurrentEdge != nil && *d.CurrentEdge != "" {
		return fmt.Errorf("agent %s: located at node %q and on edge %q", d.ID, *d.CurrentNode, *d.CurrentEdge)
	}
	if d.EdgeProgressM != nil {
		if err := requireNonNegative("edge_progress_m", *d.EdgeProgressM); err != nil {
			return err
		}
	}
	if d.SpeedKph != nil {
		if err := requireNonNegative("current_speed_kph", *d.SpeedKph); err != nil {
			return err
		}
	}
	return nil
}

// AgentRef names a removed agent.
type AgentRef struct {
	ID string `json:"id" jsonschema:"required,minLength=1"`
}

func (d *AgentRef) Validate() error {
	return requireID("agent id", d.ID)
}

// PackageData is the wire form of a cargo item. Pointer fields are optional
// in partial updates.
type PackageData struct {
	ID           string  `json:"id" jsonschema:"required,minLength=1"`
	Origin       *string `json:"origin,omitempty"`
	Destination  *string `json:"destination,omitempty"`
	Status       *string `json:"status,omitempty" jsonschema:"enum=waiting,enum=in_transit,enum=delivered,enum=expired"`
	Carrier      *string `json:"carrier,omitempty"`
	Priority     *int    `json:"priority,omitempty"`
	CreatedTick  *uint64 `json:"created_tick,omitempty"`
	DeadlineTick *uint64 `json:"deadline_tick,omitempty"`
}

func (d *PackageData) Validate() error {
	if err := requireID("package id", d.ID); err != nil {
		return err
	}
	if d.Status != nil {
		switch *d.Status {
		case "waiting", "in_transit", "delivered", "expired":
		default:
			return fmt.Errorf("package %s: unknown status %q", d.ID, *d.Status)
		}
	}
	return nil
}

// PackageEvent reports a terminal transition of a cargo item.
type PackageEvent struct {
	ID      string `json:"id" jsonschema:"required,minLength=1"`
	Carrier string `json:"carrier,omitempty"`
	Tick    uint64 `json:"tick,omitempty"`
}

func (d *PackageEvent) Validate() error {
	return requireID("package id", d.ID)
}

// MapData replaces the whole road network topology.
type MapData struct {
	Nodes     []NodeData     `json:"nodes"`
	Edges     []EdgeData     `json:"edges"`
	Buildings []BuildingData `json:"buildings,omitempty"`
}

func (d *MapData) Validate() error {
	nodes := make(map[string]struct{}, len(d.Nodes))
	for _, node := range d.Nodes {
		if err := requireID("node id", node.ID); err != nil {
			return err
		}
		nodes[node.ID] = struct{}{}
	}
	for _, edge := range d.Edges {
		if err := requireID("edge id", edge.ID); err != nil {
			return err
		}
		if _, ok := nodes[edge.From]; !ok {
			return fmt.Errorf("edge %s: unknown from node %q", edge.ID, edge.From)
		}
		if _, ok := nodes[edge.To]; !ok {
			return fmt.Errorf("edge %s: unknown to node %q", edge.ID, edge.To)
		}
		if err := requireNonNegative("length_m", edge.LengthM); err != nil {
			return err
		}
	}
	for i := range d.Buildings {
		if err := d.Buildings[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StateData is a full world replacement including the clock and entities.
type StateData struct {
	MapData
	Tick     uint64        `json:"tick"`
	Time     float64       `json:"time"`
	Day      int           `json:"day,omitempty"`
	TickRate float64       `json:"tick_rate,omitempty"`
	Running  bool          `json:"running"`
	Paused   bool          `json:"paused"`
	Agents   []AgentData   `json:"agents,omitempty"`
	Packages []PackageData `json:"packages,omitempty"`
}

func (d *StateData) Validate() error {
	if err := d.MapData.Validate(); err != nil {
		return err
	}
	if err := requireNonNegative("time", d.Time); err != nil {
		return err
	}
	for i := range d.Agents {
		if err := d.Agents[i].Validate(); err != nil {
			return err
		}
	}
	for i := range d.Packages {
		if err := d.Packages[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ErrorData is the payload of the error signal.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (*ErrorData) Validate() error { return nil }
