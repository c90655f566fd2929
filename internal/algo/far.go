package algo

import (
	"context"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// evasionHold is how many wait steps an agent that stepped aside keeps out of
// its blocker's way before it heads for its destination again.
const evasionHold = 3

// FAR (fast and reliable) follows static routes and commits their free
// prefix. An agent blocked at its first step tries breaking manoeuvres:
// re-routing around the blocked way-point or side-stepping to a free
// neighbour, preferably one off the blocker's route. After a side step the
// agent stays clear of the blocker's route for a few wait steps.
type FAR struct {
	*planner
	evasions map[core.AgentID]evasion
}

// evasion remembers a side step: where the agent came from and whom it is
// making way for.
type evasion struct {
	from    core.WaypointID
	blocker core.AgentID
	until   float64
}

func newFAR(p *planner) *FAR {
	return &FAR{planner: p, evasions: make(map[core.AgentID]evasion)}
}

// FindPaths implements PathFinder.
func (f *FAR) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return f.run(ctx, now, agents, f.plan)
}

func (f *FAR) plan(b *batch) {
	for _, i := range b.remaining() {
		if b.stopped() {
			return
		}
		a := b.agents[i]
		if a.AtDestination() {
			delete(f.evasions, a.ID)
			f.wait(b, i, "at destination")
			continue
		}
		if f.keepEvading(b, i) {
			continue
		}
		nodes := f.routeFor(b, i, routeQuery{})
		if nodes == nil {
			f.wait(b, i, "no route")
			continue
		}
		route := timeRoute(f.g, a, b.starts[i], nodes)
		prefix, blocked := f.freePrefix(b, i, route, f.tableFree)
		if len(prefix) > 1 {
			f.commit(b, i, prefix)
			continue
		}
		if blocked < 0 || !f.breakingManeuver(b, i, route, blocked) {
			f.wait(b, i, "route blocked, no breaking manoeuvre possible")
		}
	}
}

// keepEvading handles an agent inside an evasion. Off the blocker's route it
// waits; on it, it steps further aside. It reports false once the evasion has
// expired or no further step is possible, and the agent plans as usual.
func (f *FAR) keepEvading(b *batch, i int) bool {
	a := b.agents[i]
	ev, ok := f.evasions[a.ID]
	if !ok {
		return false
	}
	j, found := indexOf(b, ev.blocker)
	if !found || ev.until <= b.now+core.TimeTolerance {
		delete(f.evasions, a.ID)
		return false
	}
	route := f.blockerRoute(b, j)
	if !contains(route, b.starts[i].Node) {
		return f.commit(b, i, f.waitPath(b, i, f.cfg.LengthOfAWaitStep))
	}
	return f.cfg.FAR.EvadeToNextNode && f.sideStep(b, i, ev.blocker, route, nil)
}

// breakingManeuver tries to get agent i past step blocked of its route.
func (f *FAR) breakingManeuver(b *batch, i int, route core.Path, blocked int) bool {
	cfg := f.cfg.FAR
	a := b.agents[i]
	start := b.starts[i]
	avoid := map[core.WaypointID]bool{route[blocked].Node: true}

	blocker := core.NoAgent
	var blockerRoute []core.WaypointID
	canSideStep := cfg.EvadeToNextNode
	if j, ok := f.blockerAt(b, i, route, blocked); ok {
		other := b.agents[j]
		blocker = other.ID
		blockerRoute = f.blockerRoute(b, j)
		// A parked blocker never clears the way, and one already making way
		// for us must not be mirrored.
		if ev, yielding := f.evasions[other.ID]; other.FixedPosition ||
			yielding && ev.blocker == a.ID && ev.until > b.now+core.TimeTolerance {
			canSideStep = false
		}
	}

	for try := 0; try < cfg.MaximumNumberOfBreakingManeuverTries; try++ {
		if cfg.EvadeByRerouting {
			if nodes := f.routeFor(b, i, routeQuery{avoid: avoid}); nodes != nil {
				prefix, next := f.freePrefix(b, i, timeRoute(f.g, a, start, nodes), f.tableFree)
				if len(prefix) > 1 {
					delete(f.evasions, a.ID)
					return f.commit(b, i, prefix)
				}
				if next > 0 {
					avoid[nodes[next]] = true
				}
			}
		}
		if canSideStep && f.sideStep(b, i, blocker, blockerRoute, avoid) {
			return true
		}
	}
	return false
}

// sideStep moves agent i to a free neighbour, trying those off the blocker's
// route first. With NoBackEvading it never returns to the way-point its
// current evasion started from.
func (f *FAR) sideStep(b *batch, i int, blocker core.AgentID, blockerRoute []core.WaypointID, avoid map[core.WaypointID]bool) bool {
	a := b.agents[i]
	start := b.starts[i]
	ev, evading := f.evasions[a.ID]

	var off, on []core.WaypointID
	for _, v := range f.g.Neighbors(start.Node) {
		if avoid[v] || !f.passable(a, v, start.Node, a.DestinationNode) {
			continue
		}
		if evading && f.cfg.FAR.NoBackEvading && v == ev.from {
			continue
		}
		if contains(blockerRoute, v) {
			on = append(on, v)
		} else {
			off = append(off, v)
		}
	}
	for _, v := range append(off, on...) {
		dt, ori := a.Physics.TravelTime(f.g, start.Orientation, start.Node, v)
		step := core.Path{start, {Node: v, T: start.T + dt, Orientation: ori}}
		if prefix, _ := f.freePrefix(b, i, step, f.tableFree); len(prefix) == 2 {
			f.evasions[a.ID] = evasion{
				from:    start.Node,
				blocker: blocker,
				until:   b.now + evasionHold*f.cfg.LengthOfAWaitStep,
			}
			f.log.Debug("breaking manoeuvre", "agent", a.ID, "from", start.Node, "to", v, "blocker", blocker)
			return f.commit(b, i, prefix)
		}
		if avoid != nil {
			avoid[v] = true
		}
	}
	return false
}

// blockerAt returns the batch index of the agent holding step k of path.
func (f *FAR) blockerAt(b *batch, i int, path core.Path, k int) (int, bool) {
	from, to := path[k-1], path[k]
	id := b.agents[i].ID
	for _, loc := range []core.Location{
		core.NodeLocation(to.Node),
		core.EdgeLocation(from.Node, to.Node),
		core.NodeLocation(from.Node),
	} {
		if iv, ok := f.table.Blocker(loc, from.T, to.T, id); ok {
			return indexOf(b, iv.Agent)
		}
	}
	return -1, false
}

// blockerRoute is the static route of agent j from its planning start.
func (f *FAR) blockerRoute(b *batch, j int) []core.WaypointID {
	other := b.agents[j]
	if other.FixedPosition {
		return []core.WaypointID{b.starts[j].Node}
	}
	return f.route(routeQuery{agent: other, start: b.starts[j], goal: other.DestinationNode})
}

func indexOf(b *batch, id core.AgentID) (int, bool) {
	for j, a := range b.agents {
		if a.ID == id {
			return j, true
		}
	}
	return -1, false
}

func contains(nodes []core.WaypointID, v core.WaypointID) bool {
	for _, n := range nodes {
		if n == v {
			return true
		}
	}
	return false
}
