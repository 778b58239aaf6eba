package sim

import (
	"math"
	"sort"
)

// World holds every replicated entity keyed by id.
type World struct {
	Nodes     map[NodeID]Node
	Edges     map[EdgeID]Edge
	Buildings map[BuildingID]Building
	Agents    map[AgentID]Agent
	Packages  map[PackageID]Package
}

// NewWorld returns an empty world with allocated maps.
func NewWorld() World {
	return World{
		Nodes:     make(map[NodeID]Node),
		Edges:     make(map[EdgeID]Edge),
		Buildings: make(map[BuildingID]Building),
		Agents:    make(map[AgentID]Agent),
		Packages:  make(map[PackageID]Package),
	}
}

// Clone copies every entity map. Entity values are copied; their slices are
// shared because reducers only ever replace them.
func (w World) Clone() World {
	return World{
		Nodes:     cloneMap(w.Nodes),
		Edges:     cloneMap(w.Edges),
		Buildings: cloneMap(w.Buildings),
		Agents:    cloneMap(w.Agents),
		Packages:  cloneMap(w.Packages),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// EdgeLength returns the length of an edge in metres, deriving it from the
// endpoint nodes when the server did not provide one.
func (w World) EdgeLength(id EdgeID) (float64, bool) {
	edge, ok := w.Edges[id]
	if !ok {
		return 0, false
	}
	if edge.LengthM > 0 {
		return edge.LengthM, true
	}
	from, okFrom := w.Nodes[edge.From]
	to, okTo := w.Nodes[edge.To]
	if !okFrom || !okTo {
		return 0, true
	}
	return math.Hypot(to.X-from.X, to.Y-from.Y), true
}

// AgentPosition resolves the world coordinates of an agent. Agents on an
// edge are placed proportionally between the edge endpoints.
func (w World) AgentPosition(id AgentID) (x, y float64, ok bool) {
	agent, found := w.Agents[id]
	if !found {
		return 0, 0, false
	}
	loc := agent.Location
	if loc.IsAtNode() {
		node, found := w.Nodes[loc.Node]
		if !found {
			return 0, 0, false
		}
		return node.X, node.Y, true
	}
	if !loc.IsOnEdge() {
		return 0, 0, false
	}
	edge, found := w.Edges[loc.Edge]
	if !found {
		return 0, 0, false
	}
	from, okFrom := w.Nodes[edge.From]
	to, okTo := w.Nodes[edge.To]
	if !okFrom || !okTo {
		return 0, 0, false
	}
	length, _ := w.EdgeLength(loc.Edge)
	t := 0.0
	if length > 0 {
		t = loc.ProgressM / length
	}
	t = math.Max(0, math.Min(1, t))
	return from.X + (to.X-from.X)*t, from.Y + (to.Y-from.Y)*t, true
}

// Counts summarises the size of each entity collection.
type Counts struct {
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
	Buildings int `json:"buildings"`
	Agents    int `json:"agents"`
	Packages  int `json:"packages"`
}

// Counts reports the number of entities per collection.
func (w World) Counts() Counts {
	return Counts{
		Nodes:     len(w.Nodes),
		Edges:     len(w.Edges),
		Buildings: len(w.Buildings),
		Agents:    len(w.Agents),
		Packages:  len(w.Packages),
	}
}

func sortedValues[K ~string, V any](src map[K]V) []V {
	keys := make([]K, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	values := make([]V, len(keys))
	for i, k := range keys {
		values[i] = src[k]
	}
	return values
}
