package algo

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
	"github.com/elektrokombinacija/rmfs-mapf/internal/reservation"
)

func TestNewRejectsMissingInputs(t *testing.T) {
	tab := reservation.New(quietLogger())
	_, err := New(DefaultConfig(MethodSimple), nil, tab)
	assert.Error(t, err)
	_, err = New(DefaultConfig(MethodSimple), lineGraph(2), nil)
	assert.Error(t, err)

	cfg := DefaultConfig(MethodWHCAn)
	cfg.WHCAn.LengthOfAWindow = 0
	_, err = New(cfg, lineGraph(2), tab)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewDispatchesEveryMethod(t *testing.T) {
	for _, m := range Methods() {
		pf, _ := newFinder(t, testConfig(m), lineGraph(3))
		assert.Equal(t, m.String(), pf.Name())
	}
}

func TestSingleAgentReachesDestination(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			pf, tab := newFinder(t, testConfig(m), lineGraph(5))
			agents := drive(t, pf, tab, []core.Agent{newAgent(1, 0, 4)}, 8, 1)
			assert.True(t, atDestination(agents), "agent ended at %d", agents[0].NextNode)
		})
	}
}

func TestFindPathsLeavesInputUntouched(t *testing.T) {
	pf, _ := newFinder(t, testConfig(MethodWHCAv), lineGraph(5))
	in := []core.Agent{newAgent(1, 0, 3), newAgent(2, 4, 4)}
	before := make([]core.Agent, len(in))
	copy(before, in)

	out := pf.FindPaths(context.Background(), 0, in)
	assert.Equal(t, before, in)
	require.Len(t, out, 2)
	assert.Equal(t, core.AgentID(1), out[0].ID)
	assert.Equal(t, core.AgentID(2), out[1].ID)
	assert.Equal(t, core.WaypointID(3), out[0].Path.End().Node)
}

func TestEveryAgentGetsAPathFromItsStart(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			pf, tab := newFinder(t, testConfig(m), gridGraph(4, 4))
			agents := []core.Agent{newAgent(1, 0, 15), newAgent(2, 15, 0), newAgent(3, 5, 5)}
			out := pf.FindPaths(context.Background(), 0, agents)
			require.NoError(t, tab.Verify())
			for i, a := range out {
				require.NotEmpty(t, a.Path, "agent %d", a.ID)
				assert.Equal(t, agents[i].NextNode, a.Path.Start().Node)
				assert.InDelta(t, 0, a.Path.Start().T, 1e-9)
				assert.NotEmpty(t, tab.AgentIntervals(a.ID))
			}
		})
	}
}

func TestMutualExclusionOnRandomGrids(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			for round := 0; round < 3; round++ {
				g := gridGraph(5, 5)
				pf, tab := newFinder(t, testConfig(m), g)
				drive(t, pf, tab, randomAgents(rng, g, 6), 15, 1)
			}
		})
	}
}

func TestWindowedMethodsStayInsideTheWindow(t *testing.T) {
	for _, m := range []Method{MethodWHCAv, MethodWHCAn, MethodPAS} {
		t.Run(m.String(), func(t *testing.T) {
			cfg := testConfig(m)
			cfg.WHCAv.LengthOfAWindow = 3
			cfg.WHCAn.LengthOfAWindow = 3
			cfg.PAS.LengthOfAWindow = 3
			pf, tab := newFinder(t, cfg, lineGraph(12))

			agents := []core.Agent{newAgent(1, 0, 11), newAgent(2, 11, 6)}
			now := 0.0
			for k := 0; k < 5; k++ {
				agents = pf.FindPaths(context.Background(), now, agents)
				for _, iv := range tab.All() {
					assert.LessOrEqual(t, iv.End, now+3+core.TimeTolerance, "%s at tick %d", iv, k)
				}
				now++
				for i := range agents {
					agents[i] = agents[i].AdvanceTo(now)
					tab.ReleaseBefore(agents[i].ID, now)
				}
			}
			assert.NotEqual(t, core.WaypointID(0), agents[0].NextNode, "first agent made progress")
		})
	}
}

// spurLine is the line 0 - 1 - 2 - 3 - 4 with a spur 2 - 4 of length 1, so
// that 2, 3 and 4 form a short loop at one end.
func spurLine() *core.Graph {
	g := lineGraph(5)
	g.AddEdge(2, 4, 1)
	g.AddEdge(4, 2, 1)
	return g
}

// corridor is the line 0 - 1 - 2 - 3 with a bay 4 next to 1.
func corridor() *core.Graph {
	g := lineGraph(4)
	g.AddWaypoint(&core.Waypoint{ID: 4, Pos: core.Pos{X: 1, Y: 1}})
	g.Connect(1, 4)
	return g
}

// TestOpposingAgentsOnALoop puts two agents head on in the corridor leading to
// the loop. One of them has to wait in the loop for the other to pass.
func TestOpposingAgentsOnALoop(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			pf, tab := newFinder(t, testConfig(m), spurLine())

			agents := []core.Agent{newAgent(1, 2, 0), newAgent(2, 1, 3)}
			agents = drive(t, pf, tab, agents, 40, 1)
			for _, iv := range tab.Intervals(core.NodeLocation(1)) {
				for _, other := range tab.Intervals(core.NodeLocation(1)) {
					if iv.Agent != other.Agent {
						assert.False(t, iv.Overlaps(other.Start, other.End))
					}
				}
			}
			assert.True(t, atDestination(agents), "agents ended at %d and %d", agents[0].NextNode, agents[1].NextNode)
		})
	}
}

func TestCorridorDeadlockIsResolved(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			pf, tab := newFinder(t, testConfig(m), corridor())
			agents := []core.Agent{newAgent(1, 0, 3), newAgent(2, 3, 0)}
			agents = drive(t, pf, tab, agents, 40, 1)

			assert.True(t, atDestination(agents), "agents ended at %d and %d", agents[0].NextNode, agents[1].NextNode)
		})
	}
}

// TestFARMakesWayIntoTheBay follows the side steps tick by tick: the agent in
// the corridor backs into the bay, stays there until the other one is through,
// and only then heads on.
func TestFARMakesWayIntoTheBay(t *testing.T) {
	cfg := testConfig(MethodFAR)
	cfg.UseDeadlockHandler = false
	pf, tab := newFinder(t, cfg, corridor())

	agents := []core.Agent{newAgent(1, 0, 3), newAgent(2, 3, 0)}
	var visited []core.WaypointID
	now := 0.0
	for k := 0; k < 15; k++ {
		agents = pf.FindPaths(context.Background(), now, agents)
		require.NoError(t, tab.Verify(), "tick %d", k)
		requireDistinctPositions(t, agents)
		now++
		for i := range agents {
			agents[i] = agents[i].AdvanceTo(now)
			tab.ReleaseBefore(agents[i].ID, now)
		}
		if n := len(visited); n == 0 || visited[n-1] != agents[0].CurrentNode {
			visited = append(visited, agents[0].CurrentNode)
		}
	}

	assert.True(t, atDestination(agents))
	assert.Equal(t, []core.WaypointID{1, 2, 1, 4, 1, 2, 3}, visited)
}

func TestFixedAgentsStayPut(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			pf, tab := newFinder(t, testConfig(m), lineGraph(5))
			parked := newAgent(2, 2, 4)
			parked.FixedPosition = true
			agents := drive(t, pf, tab, []core.Agent{newAgent(1, 0, 4), parked}, 6, 1)

			assert.Equal(t, core.WaypointID(2), agents[1].CurrentNode)
			assert.Equal(t, core.WaypointID(2), agents[1].NextNode)
			assert.Contains(t, []core.WaypointID{0, 1}, agents[0].NextNode, "the only route is blocked")
		})
	}
}

func TestClockingSkipsEarlyCalls(t *testing.T) {
	pf, _ := newFinder(t, testConfig(MethodWHCAv), lineGraph(5))
	agents := pf.FindPaths(context.Background(), 0, []core.Agent{newAgent(1, 0, 4)})
	planned := agents[0].Path

	again := pf.FindPaths(context.Background(), 0.5, agents)
	assert.Equal(t, agents, again)

	agents[0].RequestReoptimization = true
	again = pf.FindPaths(context.Background(), 0.5, agents)
	assert.False(t, again[0].RequestReoptimization)
	assert.NotEqual(t, planned, again[0].Path)
}

func TestCancelledContextMakesEveryoneWait(t *testing.T) {
	for _, m := range Methods() {
		t.Run(m.String(), func(t *testing.T) {
			pf, tab := newFinder(t, testConfig(m), lineGraph(5))
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			out := pf.FindPaths(ctx, 0, []core.Agent{newAgent(1, 0, 4), newAgent(2, 4, 0)})
			for _, a := range out {
				assert.True(t, a.Path.IsWaiting(), "agent %d", a.ID)
			}
			assert.NoError(t, tab.Verify())
		})
	}
}

func TestPodsBlockAgentsThatCannotTunnel(t *testing.T) {
	pods := core.NewPodMap()
	pods.Pods[2] = true

	tests := []struct {
		name      string
		canTunnel bool
		agentFlag bool
		moves     bool
	}{
		{"tunnelling agent", true, true, true},
		{"agent without the capability", true, false, false},
		{"tunnelling disabled", false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(MethodWHCAv)
			cfg.CanTunnel = tt.canTunnel
			pf, _ := newFinder(t, cfg, lineGraph(4), WithObstacles(pods))
			a := newAgent(1, 0, 3)
			a.CanGoThroughObstacles = tt.agentFlag

			out := pf.FindPaths(context.Background(), 0, []core.Agent{a})
			assert.Equal(t, tt.moves, !out[0].Path.IsWaiting())
		})
	}
}

func TestBlockedWaypointsAreNeverEntered(t *testing.T) {
	pods := core.NewPodMap()
	pods.Blocked[1] = true
	g := gridGraph(3, 2) // 0 1 2 / 3 4 5

	pf, _ := newFinder(t, testConfig(MethodWHCAn), g, WithObstacles(pods))
	out := pf.FindPaths(context.Background(), 0, []core.Agent{newAgent(1, 0, 2)})
	assert.Equal(t, core.WaypointID(2), out[0].Path.End().Node)
	assert.NotContains(t, out[0].Path.Nodes(), core.WaypointID(1))
}

func TestJointMethodsResolveCrossingAgents(t *testing.T) {
	// 3x3 grid; agent 1 crosses the middle row, agent 2 the middle column.
	cases := map[string]func(*Config){
		"CBS best-first":    func(c *Config) { c.Method = MethodCBS; c.CBS.SearchMethod = BestFirst },
		"CBS depth-first":   func(c *Config) { c.Method = MethodCBS; c.CBS.SearchMethod = DepthFirst },
		"CBS breadth-first": func(c *Config) { c.Method = MethodCBS; c.CBS.SearchMethod = BreadthFirst },
		"ODID":              func(c *Config) { c.Method = MethodODID },
		"ODID parallel":     func(c *Config) { c.Method = MethodODID; c.ODID.Parallel = true },
		"ODID without final reservations": func(c *Config) {
			c.Method = MethodODID
			c.ODID.UseFinalReservations = false
		},
		"PAS": func(c *Config) { c.Method = MethodPAS },
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(MethodCBS)
			set(&cfg)
			pf, tab := newFinder(t, cfg, gridGraph(3, 3))

			agents := []core.Agent{newAgent(1, 3, 5), newAgent(2, 1, 7)}
			out := pf.FindPaths(context.Background(), 0, agents)
			require.NoError(t, tab.Verify())

			plans := make(map[core.AgentID][]core.Interval)
			for i, a := range out {
				assert.Equal(t, agents[i].DestinationNode, a.Path.End().Node, "agent %d", a.ID)
				plans[a.ID] = a.Path.Intervals(a.ID, a.Path.End().T)
			}
			assert.Empty(t, FindAllConflicts(plans))
		})
	}
}

func TestPriorityClasses(t *testing.T) {
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4}}, priorityClasses([]int{0, 1, 2, 3, 4}, 3))
	assert.Equal(t, [][]int{{0, 1, 2}}, priorityClasses([]int{0, 1, 2}, 1))
	assert.Equal(t, [][]int{{7}, {8}}, priorityClasses([]int{7, 8}, 5))
}
