// Package core defines domain models for warehouse multi-agent path finding.
package core

import (
	"fmt"
	"math"
)

// WaypointID is a unique way-point identifier.
type WaypointID int

// AgentID is a unique agent identifier.
type AgentID int

// NoAgent marks an interval or blocker that belongs to nobody.
const NoAgent AgentID = -1

// TimeTolerance for floating-point time comparison.
const TimeTolerance = 0.001

// TimeEqual compares times with tolerance.
func TimeEqual(t1, t2 float64) bool {
	return math.Abs(t1-t2) < TimeTolerance
}

// Pos is a 2D position in metres.
type Pos struct {
	X, Y float64
}

// Dist returns the Euclidean distance between two positions.
func (p Pos) Dist(o Pos) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Location identifies a reservable piece of space: a way-point when From == To,
// otherwise the undirected edge between From and To.
type Location struct {
	From, To WaypointID
}

// NodeLocation returns the location of a single way-point.
func NodeLocation(v WaypointID) Location {
	return Location{From: v, To: v}
}

// EdgeLocation returns the location of the edge between a and b. Both travel
// directions map to the same key so that opposing traversals collide.
func EdgeLocation(a, b WaypointID) Location {
	if a > b {
		a, b = b, a
	}
	return Location{From: a, To: b}
}

// IsNode reports whether the location is a single way-point.
func (l Location) IsNode() bool {
	return l.From == l.To
}

func (l Location) String() string {
	if l.IsNode() {
		return fmt.Sprintf("wp%d", l.From)
	}
	return fmt.Sprintf("wp%d-wp%d", l.From, l.To)
}

// Interval is a half-open span of simulated time [Start, End) during which
// Agent holds exclusive use of Loc.
type Interval struct {
	Loc   Location
	Start float64
	End   float64
	Agent AgentID
}

// Overlaps reports whether two time spans overlap by more than TimeTolerance.
// Spans that merely touch do not overlap.
func (iv Interval) Overlaps(start, end float64) bool {
	return iv.Start < end-TimeTolerance && start < iv.End-TimeTolerance
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s[%.3f,%.3f)@%d", iv.Loc, iv.Start, iv.End, iv.Agent)
}
