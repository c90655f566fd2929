package algo

import (
	"container/heap"
	"math"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// searchSpec describes a space-time A* query for one agent.
type searchSpec struct {
	agent core.Agent
	start core.Step
	goal  core.WaypointID

	// Claims starting at or after windowEnd are ignored and the search
	// returns as soon as it reaches windowEnd. +Inf disables the window.
	windowEnd float64
	// hold is the time until which the goal must stay free after arrival.
	hold float64

	// free reports whether the agent may hold iv. It must be safe for
	// concurrent use when searches run in parallel.
	free func(iv core.Interval) bool
	// bias adds cost for entering v during [t0, t1). Optional.
	bias func(v core.WaypointID, t0, t1 float64) float64
	// banned skips moves. Optional.
	banned func(from, to core.WaypointID) bool

	maxExpansions int
	deadline      deadline
}

type searchResult struct {
	path       core.Path
	reached    bool // The path ends parked on the goal
	expansions int
}

type stateKey struct {
	v core.WaypointID
	t int64
}

func keyOf(v core.WaypointID, t float64) stateKey {
	return stateKey{v: v, t: int64(math.Round(t / core.TimeTolerance))}
}

// astarNode for priority queue.
type astarNode struct {
	step   core.Step
	g      float64 // Cost so far
	f      float64 // g + h
	parent *astarNode
	index  int // heap index
}

// astarHeap implements heap.Interface.
type astarHeap []*astarNode

func (h astarHeap) Len() int { return len(h) }
func (h astarHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	// Prefer deeper nodes on ties.
	return h[i].step.T > h[j].step.T
}
func (h astarHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *astarHeap) Push(x any) {
	n := x.(*astarNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *astarHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// allows reports whether the agent may hold loc during [t0, t1). Only the part
// of the span inside the window is checked.
func (s *searchSpec) allows(loc core.Location, t0, t1 float64) bool {
	if t0 >= s.windowEnd-core.TimeTolerance {
		return true
	}
	if t1 > s.windowEnd {
		t1 = s.windowEnd
	}
	if t1-t0 < core.TimeTolerance {
		return true
	}
	return s.free(core.Interval{Loc: loc, Start: t0, End: t1, Agent: s.agent.ID})
}

func (s *searchSpec) allowsMove(from, to core.WaypointID, t0, t1 float64) bool {
	return s.allows(core.NodeLocation(from), t0, t1) &&
		s.allows(core.EdgeLocation(from, to), t0, t1) &&
		s.allows(core.NodeLocation(to), t0, t1)
}

// spaceTimeAStar searches (way-point, time) states from s.start. Actions are a
// wait of LengthOfAWaitStep or a move along an outgoing edge taking the
// agent's travel time. It returns a path to the goal that can be held until
// s.hold, a path that reaches the window end, or no path.
func (p *planner) spaceTimeAStar(s searchSpec) searchResult {
	phys := s.agent.Physics
	h := func(v core.WaypointID) float64 { return p.routes.estimate(v, s.goal, phys) }

	static := h(s.start.Node)
	if math.IsInf(static, 1) {
		return searchResult{}
	}
	limit := s.start.T + 2*static + 20*p.cfg.LengthOfAWaitStep
	if !math.IsInf(s.windowEnd, 1) {
		limit = math.Max(limit, s.windowEnd+p.cfg.LengthOfAWaitStep)
	}
	maxExp := s.maxExpansions
	if maxExp <= 0 {
		maxExp = defaultMaxExpansions
	}

	open := &astarHeap{}
	heap.Push(open, &astarNode{step: s.start, f: static})
	closed := make(map[stateKey]bool)

	expansions := 0
	for open.Len() > 0 {
		n := heap.Pop(open).(*astarNode)
		key := keyOf(n.step.Node, n.step.T)
		if closed[key] {
			continue
		}
		closed[key] = true

		expansions++
		if expansions > maxExp {
			break
		}
		if expansions%checkEvery == 0 && s.deadline.exceeded() {
			break
		}

		t := n.step.T
		if n.parent != nil && t >= s.windowEnd-core.TimeTolerance {
			return searchResult{path: reconstruct(n), reached: n.step.Node == s.goal, expansions: expansions}
		}
		if n.step.Node == s.goal && s.allows(core.NodeLocation(s.goal), t, s.hold) {
			return searchResult{path: reconstruct(n), reached: true, expansions: expansions}
		}

		// Wait in place.
		if w := t + p.cfg.LengthOfAWaitStep; w <= limit && s.allows(core.NodeLocation(n.step.Node), t, w) {
			if !closed[keyOf(n.step.Node, w)] {
				step := core.Step{Node: n.step.Node, T: w, Orientation: n.step.Orientation}
				g := n.g + p.cfg.LengthOfAWaitStep
				heap.Push(open, &astarNode{step: step, g: g, f: g + h(n.step.Node), parent: n})
			}
		}

		for _, e := range p.g.Edges[n.step.Node] {
			u := e.To
			if !p.passable(s.agent, u, s.start.Node, s.goal) {
				continue
			}
			if s.banned != nil && s.banned(n.step.Node, u) {
				continue
			}
			dt, ori := phys.TravelTime(p.g, n.step.Orientation, n.step.Node, u)
			arrive := t + dt
			if math.IsInf(dt, 1) || arrive > limit || closed[keyOf(u, arrive)] {
				continue
			}
			if !s.allowsMove(n.step.Node, u, t, arrive) {
				continue
			}
			g := n.g + dt
			if s.bias != nil {
				g += s.bias(u, t, arrive)
			}
			hu := h(u)
			if math.IsInf(hu, 1) {
				continue
			}
			heap.Push(open, &astarNode{
				step:   core.Step{Node: u, T: arrive, Orientation: ori},
				g:      g,
				f:      g + hu,
				parent: n,
			})
		}
	}
	return searchResult{expansions: expansions}
}

// defaultMaxExpansions bounds a single-agent search when no limit is given.
const defaultMaxExpansions = 20000

func reconstruct(n *astarNode) core.Path {
	var path core.Path
	for ; n != nil; n = n.parent {
		path = append(path, n.step)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
