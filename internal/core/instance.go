package core

import "fmt"

// Instance is a planning scenario: the warehouse graph, the fleet, and the
// storage state.
type Instance struct {
	Graph     *Graph
	Agents    []Agent
	Obstacles Obstacles
}

// NewInstance creates an empty instance.
func NewInstance() *Instance {
	return &Instance{
		Graph:     NewGraph(),
		Agents:    nil,
		Obstacles: NewPodMap(),
	}
}

// Validate checks instance consistency.
func (inst *Instance) Validate() error {
	if inst.Graph == nil {
		return fmt.Errorf("instance: graph is nil")
	}
	occupied := make(map[WaypointID]AgentID)
	seen := make(map[AgentID]bool)
	for _, a := range inst.Agents {
		if seen[a.ID] {
			return fmt.Errorf("instance: duplicate agent %d", a.ID)
		}
		seen[a.ID] = true
		for _, v := range []WaypointID{a.CurrentNode, a.NextNode, a.DestinationNode, a.FinalDestinationNode} {
			if _, ok := inst.Graph.Waypoints[v]; !ok {
				return fmt.Errorf("instance: agent %d references unknown way-point %d", a.ID, v)
			}
		}
		if other, ok := occupied[a.NextNode]; ok {
			return fmt.Errorf("instance: agents %d and %d share way-point %d", other, a.ID, a.NextNode)
		}
		occupied[a.NextNode] = a.ID
	}
	return nil
}

// AgentByID finds an agent by ID.
func (inst *Instance) AgentByID(id AgentID) (Agent, bool) {
	for _, a := range inst.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}
