package algo

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
	"github.com/elektrokombinacija/rmfs-mapf/internal/reservation"
)

// unitPhysics drives one metre per second and turns instantly, so an edge of
// length 1 takes exactly one second.
func unitPhysics() core.Physics {
	return core.Physics{MaxVelocity: 1}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lineGraph builds way-points 0..n-1 at x = 0..n-1 connected in a line.
func lineGraph(n int) *core.Graph {
	g := core.NewGraph()
	for i := 0; i < n; i++ {
		g.AddWaypoint(&core.Waypoint{ID: core.WaypointID(i), Pos: core.Pos{X: float64(i)}})
	}
	for i := 0; i+1 < n; i++ {
		g.Connect(core.WaypointID(i), core.WaypointID(i+1))
	}
	return g
}

// gridGraph builds a 4-connected w x h grid; way-point y*w+x sits at (x, y).
func gridGraph(w, h int) *core.Graph {
	g := core.NewGraph()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.AddWaypoint(&core.Waypoint{ID: core.WaypointID(y*w + x), Pos: core.Pos{X: float64(x), Y: float64(y)}})
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := core.WaypointID(y*w + x)
			if x < w-1 {
				g.Connect(id, id+1)
			}
			if y < h-1 {
				g.Connect(id, id+core.WaypointID(w))
			}
		}
	}
	return g
}

func newAgent(id core.AgentID, start, dest core.WaypointID) core.Agent {
	a := core.NewAgent(id, start)
	a.DestinationNode = dest
	a.FinalDestinationNode = dest
	a.Physics = unitPhysics()
	return a
}

// testConfig returns the defaults for m with unlimited wall clock budgets and
// panicking reservation checks.
func testConfig(m Method) Config {
	cfg := DefaultConfig(m)
	cfg.RuntimeLimitPerAgent = 0
	cfg.RunTimeLimitOverall = 0
	cfg.StrictReservations = true
	return cfg
}

func newFinder(t *testing.T, cfg Config, g *core.Graph, opts ...Option) (PathFinder, *reservation.Table) {
	t.Helper()
	tab := reservation.New(quietLogger())
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	pf, err := New(cfg, g, tab, opts...)
	require.NoError(t, err)
	return pf, tab
}

// drive plans and advances the agents tick by tick, checking the table after
// every planning call.
func drive(t *testing.T, pf PathFinder, tab *reservation.Table, agents []core.Agent, ticks int, step float64) []core.Agent {
	t.Helper()
	now := 0.0
	for k := 0; k < ticks; k++ {
		agents = pf.FindPaths(context.Background(), now, agents)
		require.NoError(t, tab.Verify(), "tick %d", k)
		requireDistinctPositions(t, agents)
		now += step
		for i := range agents {
			agents[i] = agents[i].AdvanceTo(now)
			tab.ReleaseBefore(agents[i].ID, now)
		}
	}
	return agents
}

func requireDistinctPositions(t *testing.T, agents []core.Agent) {
	t.Helper()
	seen := make(map[core.WaypointID]core.AgentID)
	for _, a := range agents {
		other, ok := seen[a.NextNode]
		require.False(t, ok, "agents %d and %d both bound for way-point %d", other, a.ID, a.NextNode)
		seen[a.NextNode] = a.ID
	}
}

// randomAgents places n agents on distinct way-points with distinct
// destinations.
func randomAgents(rng *rand.Rand, g *core.Graph, n int) []core.Agent {
	ids := g.IDs()
	starts := rng.Perm(len(ids))[:n]
	goals := rng.Perm(len(ids))[:n]
	agents := make([]core.Agent, n)
	for i := range agents {
		agents[i] = newAgent(core.AgentID(i+1), ids[starts[i]], ids[goals[i]])
	}
	return agents
}

func atDestination(agents []core.Agent) bool {
	for _, a := range agents {
		if a.CurrentNode != a.DestinationNode || a.NextNode != a.DestinationNode {
			return false
		}
	}
	return true
}
