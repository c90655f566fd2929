package core

// Agent is the planning state of one robot. Strategies receive agents by value
// and return updated copies; the movement layer advances them with AdvanceTo.
type Agent struct {
	ID AgentID

	// CurrentNode and NextNode are equal while the agent stands on a
	// way-point, and differ while it traverses the edge between them.
	CurrentNode           WaypointID
	NextNode              WaypointID
	DestinationNode       WaypointID // Next intermediate stop
	FinalDestinationNode  WaypointID // True goal of the current trip
	ArrivalTimeAtNextNode float64
	OrientationAtNextNode float64

	// Reservations currently held by the agent.
	Reservations []Interval

	Physics Physics

	FixedPosition         bool // Parked; must not move
	CanGoThroughObstacles bool // May tunnel under stored pods
	RequestReoptimization bool // A fresh plan is wanted even if the current one is valid
	Priority              int  // Ordering hint from task allocation; higher plans first

	Path Path
}

// NewAgent creates an agent standing on start with default physics.
func NewAgent(id AgentID, start WaypointID) Agent {
	return Agent{
		ID:                   id,
		CurrentNode:          start,
		NextNode:             start,
		DestinationNode:      start,
		FinalDestinationNode: start,
		Physics:              DefaultPhysics(),
	}
}

// Moving reports whether the agent is between two way-points at time now.
func (a Agent) Moving(now float64) bool {
	return a.CurrentNode != a.NextNode && a.ArrivalTimeAtNextNode > now+TimeTolerance
}

// AtDestination reports whether the agent stands, or will stand, on its
// destination once the current move completes.
func (a Agent) AtDestination() bool {
	return a.NextNode == a.DestinationNode
}

// PlanningStart returns the way-point, time and heading from which a new
// plan for this agent must begin.
func (a Agent) PlanningStart(now float64) Step {
	t := a.ArrivalTimeAtNextNode
	if t < now {
		t = now
	}
	return Step{Node: a.NextNode, T: t, Orientation: a.OrientationAtNextNode}
}

// ApproachIntervals returns the reservations covering the move in progress.
// The agent keeps both end points and the edge until it arrives.
func (a Agent) ApproachIntervals(now float64) []Interval {
	if !a.Moving(now) {
		return nil
	}
	return []Interval{
		{Loc: NodeLocation(a.CurrentNode), Start: now, End: a.ArrivalTimeAtNextNode, Agent: a.ID},
		{Loc: EdgeLocation(a.CurrentNode, a.NextNode), Start: now, End: a.ArrivalTimeAtNextNode, Agent: a.ID},
		{Loc: NodeLocation(a.NextNode), Start: now, End: a.ArrivalTimeAtNextNode, Agent: a.ID},
	}
}

// AdvanceTo returns the agent's state at time t after following its path.
// Steps that have been reached are consumed; the remaining path starts at the
// agent's NextNode.
func (a Agent) AdvanceTo(t float64) Agent {
	if len(a.Path) == 0 {
		return a
	}

	k := -1
	for i, s := range a.Path {
		if s.T <= t+TimeTolerance {
			k = i
		} else {
			break
		}
	}
	if k < 0 {
		return a
	}

	cur := a.Path[k]
	if k+1 < len(a.Path) && a.Path[k+1].Node != cur.Node {
		next := a.Path[k+1]
		a.CurrentNode = cur.Node
		a.NextNode = next.Node
		a.ArrivalTimeAtNextNode = next.T
		a.OrientationAtNextNode = next.Orientation
		a.Path = a.Path[k+1:].Clone()
	} else {
		a.CurrentNode = cur.Node
		a.NextNode = cur.Node
		a.ArrivalTimeAtNextNode = cur.T
		a.OrientationAtNextNode = cur.Orientation
		a.Path = a.Path[k:].Clone()
	}

	kept := a.Reservations[:0:0]
	for _, iv := range a.Reservations {
		if iv.End > t+TimeTolerance {
			kept = append(kept, iv)
		}
	}
	a.Reservations = kept
	return a
}

// Obstacles reports storage state that affects where agents may drive.
type Obstacles interface {
	// HasPod reports whether a pod is stored on the way-point.
	HasPod(v WaypointID) bool
	// IsBlocked reports whether the way-point is permanently unusable.
	IsBlocked(v WaypointID) bool
}

// PodMap is an in-memory Obstacles implementation.
type PodMap struct {
	Pods    map[WaypointID]bool
	Blocked map[WaypointID]bool
}

// NewPodMap creates an empty pod map.
func NewPodMap() *PodMap {
	return &PodMap{
		Pods:    make(map[WaypointID]bool),
		Blocked: make(map[WaypointID]bool),
	}
}

func (m *PodMap) HasPod(v WaypointID) bool    { return m.Pods[v] }
func (m *PodMap) IsBlocked(v WaypointID) bool { return m.Blocked[v] }

// NoObstacles is an Obstacles view with nothing stored and nothing blocked.
type NoObstacles struct{}

func (NoObstacles) HasPod(WaypointID) bool    { return false }
func (NoObstacles) IsBlocked(WaypointID) bool { return false }
