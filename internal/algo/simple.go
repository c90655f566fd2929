package algo

import (
	"context"
	"math/rand"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// Simple moves each agent one step along its static route whenever the next
// way-point is free, and waits otherwise.
type Simple struct {
	*planner
	rng   *rand.Rand
	stops map[core.AgentID][]core.WaypointID
}

func newSimple(p *planner) *Simple {
	return &Simple{
		planner: p,
		rng:     rand.New(rand.NewSource(p.cfg.Seed)),
		stops:   make(map[core.AgentID][]core.WaypointID),
	}
}

// FindPaths implements PathFinder.
func (s *Simple) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return s.run(ctx, now, agents, s.plan)
}

func (s *Simple) plan(b *batch) {
	cfg := s.cfg.Simple
	next := make(map[core.AgentID]core.WaypointID)

	for _, i := range b.remaining() {
		if b.stopped() {
			return
		}
		a := b.agents[i]
		start := b.starts[i]
		s.remember(a.ID, start.Node)

		if a.AtDestination() {
			s.wait(b, i, "at destination")
			continue
		}
		if cfg.PingPongWaitingEnabled && pingPong(s.stops[a.ID]) {
			s.stops[a.ID] = s.stops[a.ID][len(s.stops[a.ID])-1:]
			d := s.cfg.LengthOfAWaitStep * float64(1+s.rng.Intn(3))
			s.commit(b, i, s.waitPath(b, i, d))
			continue
		}

		nodes := s.routeFor(b, i, routeQuery{})
		if len(nodes) < 2 {
			s.wait(b, i, "no route")
			continue
		}
		next[a.ID] = nodes[1]

		if cfg.SimpleWaitingD2Enabled && len(nodes) > 2 && s.oncoming(b, i, nodes, next) {
			s.wait(b, i, "oncoming traffic two steps ahead")
			continue
		}

		step, blocked := s.freePrefix(b, i, timeRoute(s.g, a, start, nodes[:2]), s.tableFree)
		if blocked >= 0 || len(step) < 2 {
			s.wait(b, i, "next way-point reserved")
			continue
		}

		var extra []core.Interval
		if cfg.SimpleWaitingExtendedEnabled {
			iv := core.Interval{Loc: core.NodeLocation(start.Node), Start: step[1].T, End: step[1].T + s.cfg.LengthOfAWaitStep, Agent: a.ID}
			if s.tableFree(iv) {
				extra = append(extra, iv)
			}
		}
		s.commit(b, i, step, extra...)
	}
}

// oncoming reports whether the agent standing two way-points ahead intends to
// drive into the way-point we are about to enter.
func (s *Simple) oncoming(b *batch, i int, nodes []core.WaypointID, next map[core.AgentID]core.WaypointID) bool {
	t := b.starts[i].T
	iv, ok := s.table.Blocker(core.NodeLocation(nodes[2]), t, t+s.cfg.LengthOfAWaitStep, b.agents[i].ID)
	if !ok {
		return false
	}
	want, known := next[iv.Agent]
	if !known {
		for j, other := range b.agents {
			if other.ID != iv.Agent {
				continue
			}
			route := s.route(routeQuery{agent: other, start: b.starts[j], goal: other.DestinationNode})
			if len(route) < 2 {
				return false
			}
			want, known = route[1], true
		}
	}
	return known && want == nodes[1]
}

func (s *Simple) remember(id core.AgentID, v core.WaypointID) {
	stops := s.stops[id]
	if len(stops) > 0 && stops[len(stops)-1] == v {
		return
	}
	stops = append(stops, v)
	if len(stops) > 8 {
		stops = stops[len(stops)-8:]
	}
	s.stops[id] = stops
}
