package core

import "math"

// Step is a timed way-point visit: the agent is at Node from time T on.
type Step struct {
	Node        WaypointID
	T           float64 // Arrival time
	Orientation float64 // Heading on arrival (radians)
}

// Path is a sequence of timed way-point visits. Two consecutive steps on the
// same way-point are a wait; otherwise the agent departs at the earlier step's
// T and arrives at the later step's T.
type Path []Step

// Start returns the first step.
func (p Path) Start() Step {
	return p[0]
}

// End returns the last step.
func (p Path) End() Step {
	return p[len(p)-1]
}

// IsWaiting reports whether the path contains no move at all.
func (p Path) IsWaiting() bool {
	for i := 1; i < len(p); i++ {
		if p[i].Node != p[0].Node {
			return false
		}
	}
	return true
}

// Moves returns the number of way-point changes along the path.
func (p Path) Moves() int {
	n := 0
	for i := 1; i < len(p); i++ {
		if p[i].Node != p[i-1].Node {
			n++
		}
	}
	return n
}

// Nodes returns the distinct way-point sequence of the path.
func (p Path) Nodes() []WaypointID {
	var out []WaypointID
	for i, s := range p {
		if i == 0 || s.Node != p[i-1].Node {
			out = append(out, s.Node)
		}
	}
	return out
}

// PositionAt returns the way-point occupied at time t. While traversing an
// edge the agent is reported at the way-point it departed from.
func (p Path) PositionAt(t float64) (WaypointID, bool) {
	if len(p) == 0 {
		return 0, false
	}
	if t < p[0].T-TimeTolerance {
		return p[0].Node, true
	}
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].T <= t+TimeTolerance {
			return p[i].Node, true
		}
	}
	return p[0].Node, true
}

// Intervals converts the path into the reservation intervals it needs. A move
// a -> b over [t0, t1) holds a, b and the edge between them for the whole
// traversal; a wait holds the way-point. When hold exceeds the final arrival
// time the last way-point is held until hold.
func (p Path) Intervals(agent AgentID, hold float64) []Interval {
	if len(p) == 0 {
		return nil
	}
	var out []Interval
	for i := 0; i+1 < len(p); i++ {
		a, b := p[i], p[i+1]
		if b.T-a.T < TimeTolerance {
			continue
		}
		out = append(out, Interval{Loc: NodeLocation(a.Node), Start: a.T, End: b.T, Agent: agent})
		if a.Node != b.Node {
			out = append(out,
				Interval{Loc: EdgeLocation(a.Node, b.Node), Start: a.T, End: b.T, Agent: agent},
				Interval{Loc: NodeLocation(b.Node), Start: a.T, End: b.T, Agent: agent},
			)
		}
	}
	last := p.End()
	if hold > last.T+TimeTolerance {
		out = append(out, Interval{Loc: NodeLocation(last.Node), Start: last.T, End: hold, Agent: agent})
	}
	return out
}

// Truncate returns the prefix of steps arriving no later than t.
func (p Path) Truncate(t float64) Path {
	for i, s := range p {
		if s.T > t+TimeTolerance {
			if i == 0 {
				return p[:1]
			}
			return p[:i]
		}
	}
	return p
}

// Duration returns the time between the first and last step.
func (p Path) Duration() float64 {
	if len(p) == 0 {
		return 0
	}
	return p.End().T - p.Start().T
}

// Clone returns a copy that shares no memory with p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Forever is the open-ended hold used by strategies that plan without a window.
var Forever = math.Inf(1)
