package sim

// Entity identifiers are distinct string types so a road id can never be
// passed where a vehicle id is expected. Conversion to and from plain strings
// happens only at the protocol boundary.

// NodeID identifies a road network intersection.
type NodeID string

// EdgeID identifies a directed road segment between two nodes.
type EdgeID string

// BuildingID identifies a building attached to a node.
type BuildingID string

// AgentID identifies a mobile agent such as a truck.
type AgentID string

// PackageID identifies a cargo item.
type PackageID string

func (id NodeID) String() string     { return string(id) }
func (id EdgeID) String() string     { return string(id) }
func (id BuildingID) String() string { return string(id) }
func (id AgentID) String() string    { return string(id) }
func (id PackageID) String() string  { return string(id) }

// NodeIDs converts raw identifiers into node ids, preserving order.
func NodeIDs(raw []string) []NodeID {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]NodeID, len(raw))
	for i, value := range raw {
		ids[i] = NodeID(value)
	}
	return ids
}

// PackageIDs converts raw identifiers into package ids, preserving order.
func PackageIDs(raw []string) []PackageID {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]PackageID, len(raw))
	for i, value := range raw {
		ids[i] = PackageID(value)
	}
	return ids
}

// AgentIDs converts raw identifiers into agent ids, preserving order.
func AgentIDs(raw []string) []AgentID {
	if len(raw) == 0 {
		return nil
	}
	ids := make([]AgentID, len(raw))
	for i, value := range raw {
		ids[i] = AgentID(value)
	}
	return ids
}
