package sim

import (
	"maps"
	"math"
	"slices"
)

// Node is a road network intersection in world metres.
type Node struct {
	ID NodeID  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Edge is a directed road segment. LengthM of zero means the length is
// derived from the endpoint coordinates.
type Edge struct {
	ID            EdgeID  `json:"id"`
	From          NodeID  `json:"from"`
	To            NodeID  `json:"to"`
	LengthM       float64 `json:"length_m"`
	SpeedLimitKph float64 `json:"speed_limit_kph,omitempty"`
	Lanes         int     `json:"lanes,omitempty"`
}

// BuildingKind enumerates the building archetypes mirrored from the server.
type BuildingKind string

const (
	BuildingKindUnknown BuildingKind = "unknown"
	BuildingKindSite    BuildingKind = "site"
	BuildingKindParking BuildingKind = "parking"
	BuildingKindDepot   BuildingKind = "depot"
	BuildingKindStation BuildingKind = "gas_station"
)

// Building is a structure attached to a node.
type Building struct {
	ID        BuildingID   `json:"id"`
	Kind      BuildingKind `json:"kind"`
	NodeID    NodeID       `json:"node_id"`
	Capacity  int          `json:"capacity,omitempty"`
	Occupants []AgentID    `json:"occupants,omitempty"`
}

// Clone returns a copy that shares no slices with b.
func (b Building) Clone() Building {
	b.Occupants = slices.Clone(b.Occupants)
	return b
}

// AgentKind enumerates the mobile agent archetypes.
type AgentKind string

const (
	AgentKindUnknown AgentKind = "unknown"
	AgentKindTruck   AgentKind = "truck"
)

// Location places an agent either at a node or somewhere along an edge.
// Exactly one of Node and Edge is set for a located agent.
type Location struct {
	Node      NodeID  `json:"node_id,omitempty"`
	Edge      EdgeID  `json:"edge_id,omitempty"`
	ProgressM float64 `json:"edge_progress_m,omitempty"`
}

// AtNode places an agent at the given node.
func AtNode(id NodeID) Location {
	return Location{Node: id}
}

// OnEdge places an agent along the given edge.
func OnEdge(id EdgeID, progressM float64) Location {
	if progressM < 0 || math.IsNaN(progressM) {
		progressM = 0
	}
	return Location{Edge: id, ProgressM: progressM}
}

// IsOnEdge reports whether the location refers to an edge.
func (l Location) IsOnEdge() bool {
	return l.Edge != ""
}

// IsAtNode reports whether the location refers to a node.
func (l Location) IsAtNode() bool {
	return l.Edge == "" && l.Node != ""
}

// Agent is a mobile entity. Route and Cargo slices are replaced wholesale by
// reducers and never mutated in place, so snapshots may share them.
type Agent struct {
	ID       AgentID           `json:"id"`
	Kind     AgentKind         `json:"kind"`
	Location Location          `json:"location"`
	SpeedKph float64           `json:"speed_kph"`
	Route    []NodeID          `json:"route,omitempty"`
	Cargo    []PackageID       `json:"cargo,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Clone returns a copy that shares no slices or maps with a.
func (a Agent) Clone() Agent {
	a.Route = slices.Clone(a.Route)
	a.Cargo = slices.Clone(a.Cargo)
	a.Tags = maps.Clone(a.Tags)
	return a
}

// PackageStatus tracks a cargo item through its delivery lifecycle.
type PackageStatus string

const (
	PackageWaiting   PackageStatus = "waiting"
	PackageInTransit PackageStatus = "in_transit"
	PackageDelivered PackageStatus = "delivered"
	PackageExpired   PackageStatus = "expired"
)

// Package is a cargo item moved between buildings.
type Package struct {
	ID           PackageID     `json:"id"`
	Origin       BuildingID    `json:"origin,omitempty"`
	Destination  BuildingID    `json:"destination,omitempty"`
	Status       PackageStatus `json:"status"`
	Carrier      AgentID       `json:"carrier,omitempty"`
	Priority     int           `json:"priority,omitempty"`
	CreatedTick  uint64        `json:"created_tick,omitempty"`
	DeadlineTick uint64        `json:"deadline_tick,omitempty"`
}
