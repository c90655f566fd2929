package algo

import (
	"context"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// WHCAv is windowed hierarchical cooperative A* that validates each agent's
// static route inside the window and searches only when the route collides.
type WHCAv struct {
	*planner
}

// FindPaths implements PathFinder.
func (w *WHCAv) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return w.run(ctx, now, agents, w.plan)
}

func (w *WHCAv) plan(b *batch) {
	for _, i := range b.remaining() {
		if b.stopped() {
			return
		}
		a := b.agents[i]
		if a.AtDestination() {
			w.wait(b, i, "at destination")
			continue
		}
		nodes := w.routeFor(b, i, routeQuery{})
		if nodes == nil {
			w.wait(b, i, "no route")
			continue
		}

		route := timeRoute(w.g, a, b.starts[i], nodes)
		prefix, blocked := w.freePrefix(b, i, route, w.tableFree)
		if blocked < 0 && len(prefix) == len(route) {
			w.commit(b, i, route)
			continue
		}
		if w.cfg.WHCAv.AbortAtFirstConflict {
			if len(prefix) < 2 {
				w.wait(b, i, "route blocked at the first step")
				continue
			}
			w.commit(b, i, prefix)
			continue
		}

		res := w.search(b, w.searchFor(b, i))
		if res.path == nil {
			w.wait(b, i, "no path inside the window")
			continue
		}
		w.commit(b, i, res.path)
	}
}

// WHCAn is windowed hierarchical cooperative A* that always completes the
// windowed search, optionally biased away from contested way-points.
type WHCAn struct {
	*planner
}

// FindPaths implements PathFinder.
func (w *WHCAn) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return w.run(ctx, now, agents, w.plan)
}

func (w *WHCAn) plan(b *batch) {
	var bias func(core.AgentID) func(core.WaypointID, float64, float64) float64
	if w.cfg.WHCAn.UseBias {
		bias = func(id core.AgentID) func(core.WaypointID, float64, float64) float64 {
			return w.contested(b, id, w.cfg.LengthOfAWaitStep)
		}
	}
	w.planSequential(b, b.remaining(), bias)
}

// contested returns a cost function charging amount for entering a way-point
// that another agent holds at any time inside the window.
func (p *planner) contested(b *batch, id core.AgentID, amount float64) func(core.WaypointID, float64, float64) float64 {
	return func(v core.WaypointID, _, _ float64) float64 {
		if p.table.IsFree(core.NodeLocation(v), b.now, b.until, id) {
			return 0
		}
		return amount
	}
}
