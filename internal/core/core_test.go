package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineGraph builds way-points 0..n-1 at x = 0..n-1 on tier 0, connected in a line.
func lineGraph(n int) *Graph {
	g := NewGraph()
	for i := 0; i < n; i++ {
		g.AddWaypoint(&Waypoint{ID: WaypointID(i), Pos: Pos{X: float64(i)}})
	}
	for i := 0; i+1 < n; i++ {
		g.Connect(WaypointID(i), WaypointID(i+1))
	}
	return g
}

func TestGraphDistance(t *testing.T) {
	g := lineGraph(3)

	assert.InDelta(t, 1.0, g.Distance(0, 1), 1e-9)
	assert.InDelta(t, 1.0, g.Distance(1, 0), 1e-9)
	assert.True(t, math.IsInf(g.Distance(0, 2), 1), "no edge means infinite cost")

	e, ok := g.Edge(1, 0)
	require.True(t, ok)
	assert.InDelta(t, math.Pi, math.Abs(e.Angle), 1e-9)
}

func TestGraphWrongTierPenalty(t *testing.T) {
	g := lineGraph(2)
	g.AddWaypoint(&Waypoint{ID: 10, Pos: Pos{X: 1}, Tier: 1, Elevator: true})
	g.Connect(1, 10)

	assert.InDelta(t, g.WrongTierPenalty, g.Distance(1, 10), 1e-9)
	assert.InDelta(t, 1+g.WrongTierPenalty, g.EstimateDistance(0, 10), 1e-9)
	assert.Len(t, g.Elevators(), 2)

	tiers := g.Tiers()
	assert.Equal(t, []WaypointID{0, 1}, tiers[0])
	assert.Equal(t, []WaypointID{10}, tiers[1])
}

func TestPhysicsDriveTime(t *testing.T) {
	tests := []struct {
		name string
		p    Physics
		dist float64
		want float64
	}{
		{"constant velocity", Physics{MaxVelocity: 2}, 4, 2},
		// v=1, a=d=1: accel 0.5m + decel 0.5m, cruise 1m -> 1 + 1 + 1
		{"trapezoid", Physics{MaxVelocity: 1, Acceleration: 1, Deceleration: 1}, 2, 3},
		// peak = sqrt(2*0.5*1*1/2) = sqrt(0.5)
		{"triangle", Physics{MaxVelocity: 1, Acceleration: 1, Deceleration: 1}, 0.5, 2 * math.Sqrt(0.5)},
		{"zero distance", DefaultPhysics(), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.p.DriveTime(tt.dist), 1e-9)
		})
	}
}

func TestPhysicsTravelTimeIncludesTurn(t *testing.T) {
	g := lineGraph(3)
	p := Physics{MaxVelocity: 1, TurnSpeed: math.Pi / 2}

	straight, heading := p.TravelTime(g, 0, 0, 1)
	assert.InDelta(t, 1.0, straight, 1e-9)
	assert.InDelta(t, 0.0, heading, 1e-9)

	// Facing east, driving west needs a half turn: π / (π/2) = 2s.
	reverse, heading := p.TravelTime(g, 0, 1, 0)
	assert.InDelta(t, 3.0, reverse, 1e-9)
	assert.InDelta(t, math.Pi, math.Abs(heading), 1e-9)

	missing, _ := p.TravelTime(g, 0, 0, 2)
	assert.True(t, math.IsInf(missing, 1))
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, 0.0, NormalizeAngle(2*math.Pi), 1e-9)
	assert.InDelta(t, -math.Pi/2, NormalizeAngle(3*math.Pi/2), 1e-9)
	assert.InDelta(t, math.Pi, NormalizeAngle(-math.Pi), 1e-9)
}

func TestPathIntervals(t *testing.T) {
	p := Path{{Node: 0, T: 0}, {Node: 0, T: 1}, {Node: 1, T: 2}}
	ivs := p.Intervals(7, 5)

	want := []Interval{
		{Loc: NodeLocation(0), Start: 0, End: 1, Agent: 7},
		{Loc: NodeLocation(0), Start: 1, End: 2, Agent: 7},
		{Loc: EdgeLocation(0, 1), Start: 1, End: 2, Agent: 7},
		{Loc: NodeLocation(1), Start: 1, End: 2, Agent: 7},
		{Loc: NodeLocation(1), Start: 2, End: 5, Agent: 7},
	}
	assert.Equal(t, want, ivs)

	assert.Equal(t, EdgeLocation(1, 0), EdgeLocation(0, 1))
	assert.False(t, p.IsWaiting())
	assert.Equal(t, 1, p.Moves())
	assert.Equal(t, []WaypointID{0, 1}, p.Nodes())
}

func TestIntervalOverlaps(t *testing.T) {
	iv := Interval{Start: 1, End: 2}
	assert.True(t, iv.Overlaps(1.5, 3))
	assert.False(t, iv.Overlaps(2, 3), "touching spans do not overlap")
	assert.False(t, iv.Overlaps(0, 1))
	assert.True(t, Interval{Start: 1, End: math.Inf(1)}.Overlaps(100, 101))
}

func TestAgentAdvanceTo(t *testing.T) {
	a := NewAgent(1, 0)
	a.Path = Path{{Node: 0, T: 0}, {Node: 0, T: 1}, {Node: 1, T: 2}, {Node: 2, T: 3}}
	a.Reservations = []Interval{{Loc: NodeLocation(0), Start: 0, End: 1, Agent: 1}}

	mid := a.AdvanceTo(1.5)
	assert.Equal(t, WaypointID(0), mid.CurrentNode)
	assert.Equal(t, WaypointID(1), mid.NextNode)
	assert.InDelta(t, 2.0, mid.ArrivalTimeAtNextNode, 1e-9)
	assert.True(t, mid.Moving(1.5))
	assert.Empty(t, mid.Reservations)
	assert.Equal(t, WaypointID(1), mid.Path.Start().Node)

	done := a.AdvanceTo(10)
	assert.Equal(t, WaypointID(2), done.CurrentNode)
	assert.Equal(t, WaypointID(2), done.NextNode)
	assert.False(t, done.Moving(10))
	assert.Len(t, done.Path, 1)

	// The original value is untouched.
	assert.Equal(t, WaypointID(0), a.NextNode)
	assert.Len(t, a.Path, 4)
}

func TestAgentApproachIntervals(t *testing.T) {
	a := NewAgent(3, 0)
	a.NextNode = 1
	a.ArrivalTimeAtNextNode = 4

	ivs := a.ApproachIntervals(2)
	require.Len(t, ivs, 3)
	for _, iv := range ivs {
		assert.InDelta(t, 2.0, iv.Start, 1e-9)
		assert.InDelta(t, 4.0, iv.End, 1e-9)
	}
	assert.Nil(t, a.ApproachIntervals(4))

	start := a.PlanningStart(2)
	assert.Equal(t, WaypointID(1), start.Node)
	assert.InDelta(t, 4.0, start.T, 1e-9)
}

func TestInstanceValidate(t *testing.T) {
	inst := NewInstance()
	inst.Graph = lineGraph(3)
	inst.Agents = []Agent{NewAgent(0, 0), NewAgent(1, 2)}
	require.NoError(t, inst.Validate())

	inst.Agents = append(inst.Agents, NewAgent(2, 2))
	assert.ErrorContains(t, inst.Validate(), "share way-point 2")

	inst.Agents = []Agent{NewAgent(0, 9)}
	assert.ErrorContains(t, inst.Validate(), "unknown way-point 9")
}
