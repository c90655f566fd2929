package core

import (
	"math"
	"sort"
)

// DefaultWrongTierPenalty is the extra distance charged for an edge that
// changes tier (an elevator ride).
const DefaultWrongTierPenalty = 20.0

// Waypoint is a location in the warehouse graph.
type Waypoint struct {
	ID            WaypointID
	Pos           Pos
	Tier          int
	PodStorage    bool // Storage location a pod may be parked on
	QueuePosition bool // Part of a station queue
	Station       bool // Pick or replenishment station
	Elevator      bool // Elevator entry point
}

// Edge is a directed connection between two way-points.
type Edge struct {
	From, To WaypointID
	Distance float64 // Traversal distance (metres)
	Angle    float64 // Orientation after traversal (radians)
}

// Graph is the static warehouse topology. It is built once and then shared
// read-only by every strategy.
type Graph struct {
	Waypoints        map[WaypointID]*Waypoint
	Edges            map[WaypointID][]Edge // Adjacency list
	WrongTierPenalty float64
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Waypoints:        make(map[WaypointID]*Waypoint),
		Edges:            make(map[WaypointID][]Edge),
		WrongTierPenalty: DefaultWrongTierPenalty,
	}
}

// AddWaypoint adds a way-point to the graph.
func (g *Graph) AddWaypoint(w *Waypoint) {
	g.Waypoints[w.ID] = w
	if g.Edges[w.ID] == nil {
		g.Edges[w.ID] = []Edge{}
	}
}

// AddEdge adds a directed edge. A non-positive distance is replaced by the
// Euclidean distance between the way-points. The approach angle is derived
// from the way-point positions; a vertical edge (elevator) keeps angle 0.
func (g *Graph) AddEdge(from, to WaypointID, dist float64) {
	a, b := g.Waypoints[from], g.Waypoints[to]
	if a == nil || b == nil {
		return
	}
	if dist <= 0 {
		dist = a.Pos.Dist(b.Pos)
	}
	angle := 0.0
	if a.Pos != b.Pos {
		angle = math.Atan2(b.Pos.Y-a.Pos.Y, b.Pos.X-a.Pos.X)
	}
	for i, e := range g.Edges[from] {
		if e.To == to {
			g.Edges[from][i] = Edge{From: from, To: to, Distance: dist, Angle: angle}
			return
		}
	}
	g.Edges[from] = append(g.Edges[from], Edge{From: from, To: to, Distance: dist, Angle: angle})
}

// Connect adds a bidirectional edge with Euclidean length.
func (g *Graph) Connect(a, b WaypointID) {
	g.AddEdge(a, b, 0)
	g.AddEdge(b, a, 0)
}

// Neighbors returns way-points reachable by one edge.
func (g *Graph) Neighbors(v WaypointID) []WaypointID {
	edges := g.Edges[v]
	neighbors := make([]WaypointID, len(edges))
	for i, e := range edges {
		neighbors[i] = e.To
	}
	return neighbors
}

// Edge returns the directed edge from -> to.
func (g *Graph) Edge(from, to WaypointID) (Edge, bool) {
	for _, e := range g.Edges[from] {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// Distance returns the static traversal cost of the edge from -> to, including
// the wrong-tier penalty. Returns +Inf when no edge exists.
func (g *Graph) Distance(from, to WaypointID) float64 {
	e, ok := g.Edge(from, to)
	if !ok {
		return math.Inf(1)
	}
	return e.Distance + g.tierPenalty(from, to)
}

// EstimateDistance is a lower bound on the travel distance between any two
// way-points.
func (g *Graph) EstimateDistance(a, b WaypointID) float64 {
	wa, wb := g.Waypoints[a], g.Waypoints[b]
	if wa == nil || wb == nil {
		return math.Inf(1)
	}
	return wa.Pos.Dist(wb.Pos) + g.tierPenalty(a, b)
}

func (g *Graph) tierPenalty(a, b WaypointID) float64 {
	wa, wb := g.Waypoints[a], g.Waypoints[b]
	if wa == nil || wb == nil || wa.Tier == wb.Tier {
		return 0
	}
	return g.WrongTierPenalty
}

// IDs returns all way-point IDs in ascending order.
func (g *Graph) IDs() []WaypointID {
	ids := make([]WaypointID, 0, len(g.Waypoints))
	for id := range g.Waypoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Tiers groups way-point IDs by tier, each group in ascending ID order.
func (g *Graph) Tiers() map[int][]WaypointID {
	tiers := make(map[int][]WaypointID)
	for _, id := range g.IDs() {
		w := g.Waypoints[id]
		tiers[w.Tier] = append(tiers[w.Tier], id)
	}
	return tiers
}

// Elevators returns the edges that connect different tiers.
func (g *Graph) Elevators() []Edge {
	var out []Edge
	for _, id := range g.IDs() {
		for _, e := range g.Edges[id] {
			if g.tierPenalty(e.From, e.To) > 0 {
				out = append(out, e)
			}
		}
	}
	return out
}

// MeanEdgeDistance returns the average edge distance, or 0 for an edgeless graph.
func (g *Graph) MeanEdgeDistance() float64 {
	total, n := 0.0, 0
	for _, edges := range g.Edges {
		for _, e := range edges {
			total += e.Distance
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
