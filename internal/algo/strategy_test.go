package algo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// planOnce runs a single planning call at time 0.
func planOnce(t *testing.T, cfg Config, g *core.Graph, agents ...core.Agent) ([]core.Agent, func(core.WaypointID, float64, float64) bool) {
	t.Helper()
	pf, tab := newFinder(t, cfg, g)
	out := pf.FindPaths(context.Background(), 0, agents)
	require.NoError(t, tab.Verify())
	free := func(v core.WaypointID, t0, t1 float64) bool {
		return tab.IsFree(core.NodeLocation(v), t0, t1, core.NoAgent)
	}
	return out, free
}

func parkedAt(id core.AgentID, v core.WaypointID) core.Agent {
	a := newAgent(id, v, v)
	a.FixedPosition = true
	return a
}

// link connects a and b both ways with the given length.
func link(g *core.Graph, a, b core.WaypointID, d float64) {
	g.AddEdge(a, b, d)
	g.AddEdge(b, a, d)
}

func TestSimpleWaitsForOncomingTrafficTwoAhead(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		cfg := testConfig(MethodSimple)
		cfg.Simple.SimpleWaitingD2Enabled = enabled
		agents, _ := planOnce(t, cfg, lineGraph(3), newAgent(1, 0, 2), newAgent(2, 2, 0))

		if enabled {
			assert.True(t, agents[0].Path.IsWaiting(), "agent 2 is about to drive into way-point 1")
		} else {
			require.Len(t, agents[0].Path, 2)
			assert.Equal(t, core.WaypointID(1), agents[0].Path[1].Node)
		}
	}
}

func TestSimpleExtendedWaitingKeepsTheLeftWaypoint(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		cfg := testConfig(MethodSimple)
		cfg.Simple.SimpleWaitingExtendedEnabled = enabled
		agents, free := planOnce(t, cfg, lineGraph(3), newAgent(1, 0, 2))

		require.Equal(t, core.WaypointID(1), agents[0].Path[1].Node)
		assert.Equal(t, !enabled, free(0, 1, 2), "way-point 0 after arrival, extended=%v", enabled)
	}
}

func TestWHCAvAbortsAtTheFirstConflict(t *testing.T) {
	// 0 1 2
	// 3 4 5, with 1 taken by a parked agent.
	for _, abort := range []bool{false, true} {
		cfg := testConfig(MethodWHCAv)
		cfg.WHCAv.AbortAtFirstConflict = abort
		agents, _ := planOnce(t, cfg, gridGraph(3, 2), newAgent(1, 0, 2), parkedAt(2, 1))

		if abort {
			assert.True(t, agents[0].Path.IsWaiting())
			continue
		}
		path := agents[0].Path
		require.Len(t, path, 5)
		assert.Equal(t, core.WaypointID(3), path[1].Node)
		assert.Equal(t, core.WaypointID(2), path[4].Node)
	}
}

func TestWHCAnBiasAvoidsContestedWaypoints(t *testing.T) {
	// Agent 2 goes 0 -> 2 either through 1 (length 2) or through 3 (length
	// 2.8). Agent 1 crosses 1 later on its way 4 -> 7, so 1 is free when
	// agent 2 passes but contested inside the window.
	g := core.NewGraph()
	for id, p := range map[core.WaypointID]core.Pos{
		0: {X: 0}, 1: {X: 1}, 2: {X: 2}, 3: {X: 1, Y: -1},
		4: {X: 1, Y: 4}, 5: {X: 1, Y: 3}, 6: {X: 1, Y: 1}, 7: {X: 2, Y: 1},
	} {
		g.AddWaypoint(&core.Waypoint{ID: id, Pos: p})
	}
	link(g, 0, 1, 1)
	link(g, 1, 2, 1)
	link(g, 0, 3, 1.4)
	link(g, 3, 2, 1.4)
	link(g, 4, 5, 1)
	link(g, 5, 6, 2)
	link(g, 6, 1, 1)
	link(g, 1, 7, 1)

	for _, bias := range []bool{false, true} {
		cfg := testConfig(MethodWHCAn)
		cfg.WHCAn.UseBias = bias
		agents, _ := planOnce(t, cfg, g, newAgent(1, 4, 7), newAgent(2, 0, 2))

		require.Equal(t, core.WaypointID(7), agents[0].Path[len(agents[0].Path)-1].Node)
		path := agents[1].Path
		require.Len(t, path, 3)
		want := core.WaypointID(1)
		if bias {
			want = 3
		}
		assert.Equal(t, want, path[1].Node, "bias=%v", bias)
	}
}

func TestFARSideStepsOnlyWhenAllowed(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		cfg := testConfig(MethodFAR)
		cfg.FAR.EvadeToNextNode = enabled
		agents, _ := planOnce(t, cfg, spurLine(), newAgent(1, 2, 0), newAgent(2, 1, 3))

		if !enabled {
			assert.True(t, agents[0].Path.IsWaiting())
			continue
		}
		// 4 lies off agent 2's route 1 - 2 - 3, unlike 3.
		require.Len(t, agents[0].Path, 2)
		assert.Equal(t, core.WaypointID(4), agents[0].Path[1].Node)
		assert.True(t, agents[1].Path.IsWaiting(), "agent 2 lets agent 1 clear the way first")
	}
}

func TestFARReroutesAroundParkedAgents(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		cfg := testConfig(MethodFAR)
		cfg.FAR.EvadeByRerouting = enabled
		agents, _ := planOnce(t, cfg, gridGraph(3, 2), newAgent(1, 0, 2), parkedAt(2, 1))

		if !enabled {
			// Side steps never help against a parked agent.
			assert.True(t, agents[0].Path.IsWaiting())
			continue
		}
		path := agents[0].Path
		require.Len(t, path, 5)
		assert.Equal(t, core.WaypointID(3), path[1].Node)
		assert.Equal(t, core.WaypointID(2), path[4].Node)
	}
}
