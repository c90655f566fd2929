package algo

import (
	"context"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// BCP (biased cost path finding) runs a static A* in which way-points held by
// other agents cost BiasedCostAmount extra, and commits the free prefix of the
// resulting route.
type BCP struct {
	*planner
}

// FindPaths implements PathFinder.
func (c *BCP) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return c.run(ctx, now, agents, c.plan)
}

func (c *BCP) plan(b *batch) {
	for _, i := range b.remaining() {
		if b.stopped() {
			return
		}
		a := b.agents[i]
		if a.AtDestination() {
			c.wait(b, i, "at destination")
			continue
		}
		t := b.starts[i].T
		bias := func(v core.WaypointID) float64 {
			if c.table.IsFree(core.NodeLocation(v), t, core.Forever, a.ID) {
				return 0
			}
			return c.cfg.BCP.BiasedCostAmount
		}
		nodes := c.routeFor(b, i, routeQuery{bias: bias})
		if nodes == nil {
			c.wait(b, i, "no route")
			continue
		}
		prefix, _ := c.freePrefix(b, i, timeRoute(c.g, a, b.starts[i], nodes), c.tableFree)
		if len(prefix) < 2 {
			c.wait(b, i, "route blocked at the first step")
			continue
		}
		c.commit(b, i, prefix)
	}
}
