package algo

import (
	"container/heap"
	"math"
	"sync"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// routes caches, per destination, the static shortest distance from every
// way-point. The distances ignore other agents and obstacles, so they are an
// admissible heuristic for every search.
type routes struct {
	g  *core.Graph
	in map[core.WaypointID][]core.Edge

	mu   sync.Mutex
	dist map[core.WaypointID]map[core.WaypointID]float64
}

func newRoutes(g *core.Graph) *routes {
	in := make(map[core.WaypointID][]core.Edge)
	for _, v := range g.IDs() {
		for _, e := range g.Edges[v] {
			in[e.To] = append(in[e.To], e)
		}
	}
	return &routes{g: g, in: in, dist: make(map[core.WaypointID]map[core.WaypointID]float64)}
}

// distanceTo returns the distances to goal, computing them on first use.
func (r *routes) distanceTo(goal core.WaypointID) map[core.WaypointID]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.dist[goal]; ok {
		return d
	}

	d := map[core.WaypointID]float64{goal: 0}
	open := &distHeap{{v: goal}}
	for open.Len() > 0 {
		cur := heap.Pop(open).(distItem)
		if cur.d > d[cur.v] {
			continue
		}
		for _, e := range r.in[cur.v] {
			nd := cur.d + r.g.Distance(e.From, e.To)
			if old, ok := d[e.From]; !ok || nd < old {
				d[e.From] = nd
				heap.Push(open, distItem{v: e.From, d: nd})
			}
		}
	}
	r.dist[goal] = d
	return d
}

// estimate is a lower bound on the travel time from v to goal.
func (r *routes) estimate(v, goal core.WaypointID, phys core.Physics) float64 {
	d, ok := r.distanceTo(goal)[v]
	if !ok {
		return math.Inf(1)
	}
	return phys.MinTravelTime(d)
}

type distItem struct {
	v core.WaypointID
	d float64
}

type distHeap []distItem

func (h distHeap) Len() int           { return len(h) }
func (h distHeap) Less(i, j int) bool { return h[i].d < h[j].d }
func (h distHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *distHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// routeQuery describes a static route search: the fastest way-point sequence
// from a start to a goal, ignoring time.
type routeQuery struct {
	agent  core.Agent
	start  core.Step
	goal   core.WaypointID
	bias   func(v core.WaypointID) float64   // Extra cost for entering v
	banned func(from, to core.WaypointID) bool // Moves to skip
	avoid  map[core.WaypointID]bool            // Way-points to skip
}

type routeNode struct {
	v           core.WaypointID
	g, f        float64
	orientation float64
	parent      *routeNode
	index       int
}

type routeHeap []*routeNode

func (h routeHeap) Len() int { return len(h) }
func (h routeHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].v < h[j].v
}
func (h routeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *routeHeap) Push(x any) {
	n := x.(*routeNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *routeHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// route runs A* over the graph and returns the way-point sequence from
// q.start.Node to q.goal, or nil if the goal cannot be reached.
func (p *planner) route(q routeQuery) []core.WaypointID {
	if q.start.Node == q.goal {
		return []core.WaypointID{q.goal}
	}
	phys := q.agent.Physics
	h := func(v core.WaypointID) float64 { return p.routes.estimate(v, q.goal, phys) }
	if math.IsInf(h(q.start.Node), 1) {
		return nil
	}

	best := map[core.WaypointID]float64{q.start.Node: 0}
	closed := make(map[core.WaypointID]bool)
	open := &routeHeap{}
	heap.Push(open, &routeNode{v: q.start.Node, f: h(q.start.Node), orientation: q.start.Orientation})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*routeNode)
		if closed[cur.v] {
			continue
		}
		closed[cur.v] = true
		if cur.v == q.goal {
			var out []core.WaypointID
			for n := cur; n != nil; n = n.parent {
				out = append(out, n.v)
			}
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
			return out
		}

		for _, e := range p.g.Edges[cur.v] {
			u := e.To
			if closed[u] || q.avoid[u] || !p.passable(q.agent, u, q.start.Node, q.goal) {
				continue
			}
			if q.banned != nil && q.banned(cur.v, u) {
				continue
			}
			dt, ori := phys.TravelTime(p.g, cur.orientation, cur.v, u)
			g := cur.g + dt
			if q.bias != nil {
				g += q.bias(u)
			}
			if old, ok := best[u]; ok && old <= g {
				continue
			}
			best[u] = g
			heap.Push(open, &routeNode{v: u, g: g, f: g + h(u), orientation: ori, parent: cur})
		}
	}
	return nil
}

// passable reports whether agent may enter v on a trip from start to goal.
func (p *planner) passable(agent core.Agent, v, start, goal core.WaypointID) bool {
	if p.obstacles.IsBlocked(v) {
		return false
	}
	if v == start || v == goal || !p.obstacles.HasPod(v) {
		return true
	}
	return p.canTunnel(agent)
}

func (p *planner) canTunnel(agent core.Agent) bool {
	return p.cfg.CanTunnel && agent.CanGoThroughObstacles
}

// timeRoute turns a way-point sequence into a path without waits.
func timeRoute(g *core.Graph, agent core.Agent, start core.Step, nodes []core.WaypointID) core.Path {
	path := core.Path{start}
	cur := start
	for _, v := range nodes[1:] {
		dt, ori := agent.Physics.TravelTime(g, cur.Orientation, cur.Node, v)
		cur = core.Step{Node: v, T: cur.T + dt, Orientation: ori}
		path = append(path, cur)
	}
	return path
}
