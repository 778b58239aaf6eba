package sim

// SimClock mirrors the virtual clock and run state of the remote simulation.
type SimClock struct {
	SimSeconds float64 `json:"sim_seconds"`
	Day        int     `json:"day,omitempty"`
	TickRate   float64 `json:"tick_rate,omitempty"`
	Running    bool    `json:"running"`
	Paused     bool    `json:"paused"`
}

// Draft is the mutable working copy that reducers write into between
// commits. It is owned exclusively by the store.
type Draft struct {
	Tick     uint64
	TimeMs   int64
	Topology uint64
	Clock    SimClock
	World    World
}

// NewDraft returns an empty draft at tick zero.
func NewDraft() *Draft {
	return &Draft{World: NewWorld()}
}

// Freeze stamps the draft with the given tick and observation time and copies
// it into an immutable snapshot. The draft stays usable but no longer shares
// maps with the result.
func (d *Draft) Freeze(tick uint64, timeMs int64) *Snapshot {
	return &Snapshot{
		tick:     tick,
		timeMs:   timeMs,
		topology: d.Topology,
		clock:    d.Clock,
		world:    d.World.Clone(),
	}
}

// Snapshot is an immutable view of the replicated world at one committed
// tick. Accessors return deep copies; callers cannot reach the underlying
// maps or the slices held by entities.
type Snapshot struct {
	tick     uint64
	timeMs   int64
	topology uint64
	clock    SimClock
	world    World
}

// Tick returns the authoritative tick the snapshot was committed at.
func (s *Snapshot) Tick() uint64 { return s.tick }

// TimeMs returns the wall-clock instant, in milliseconds, at which the tick
// was observed.
func (s *Snapshot) TimeMs() int64 { return s.timeMs }

// Topology returns the structural generation of the snapshot. Snapshots with
// different generations must never be blended.
func (s *Snapshot) Topology() uint64 { return s.topology }

// Clock returns the virtual clock captured with the snapshot.
func (s *Snapshot) Clock() SimClock { return s.clock }

// Counts summarises the entity collections.
func (s *Snapshot) Counts() Counts { return s.world.Counts() }

func (s *Snapshot) Node(id NodeID) (Node, bool) {
	v, ok := s.world.Nodes[id]
	return v, ok
}

func (s *Snapshot) Edge(id EdgeID) (Edge, bool) {
	v, ok := s.world.Edges[id]
	return v, ok
}

func (s *Snapshot) Building(id BuildingID) (Building, bool) {
	v, ok := s.world.Buildings[id]
	return v.Clone(), ok
}

func (s *Snapshot) Agent(id AgentID) (Agent, bool) {
	v, ok := s.world.Agents[id]
	return v.Clone(), ok
}

func (s *Snapshot) Package(id PackageID) (Package, bool) {
	v, ok := s.world.Packages[id]
	return v, ok
}

// Nodes returns every node ordered by id.
func (s *Snapshot) Nodes() []Node { return sortedValues(s.world.Nodes) }

// Edges returns every edge ordered by id.
func (s *Snapshot) Edges() []Edge { return sortedValues(s.world.Edges) }

// Buildings returns every building ordered by id.
func (s *Snapshot) Buildings() []Building {
	buildings := sortedValues(s.world.Buildings)
	for i := range buildings {
		buildings[i] = buildings[i].Clone()
	}
	return buildings
}

// Agents returns every agent ordered by id.
func (s *Snapshot) Agents() []Agent {
	agents := sortedValues(s.world.Agents)
	for i := range agents {
		agents[i] = agents[i].Clone()
	}
	return agents
}

// Packages returns every package ordered by id.
func (s *Snapshot) Packages() []Package { return sortedValues(s.world.Packages) }

// EdgeLength resolves an edge length within the snapshot.
func (s *Snapshot) EdgeLength(id EdgeID) (float64, bool) {
	return s.world.EdgeLength(id)
}

// AgentPosition resolves an agent's world coordinates within the snapshot.
func (s *Snapshot) AgentPosition(id AgentID) (x, y float64, ok bool) {
	return s.world.AgentPosition(id)
}

// Thaw returns a fresh mutable draft cloned from the snapshot.
func (s *Snapshot) Thaw() *Draft {
	return &Draft{
		Tick:     s.tick,
		TimeMs:   s.timeMs,
		Topology: s.topology,
		Clock:    s.clock,
		World:    s.world.Clone(),
	}
}
