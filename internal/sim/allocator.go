package sim

import (
	"math/rand"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
	"github.com/elektrokombinacija/rmfs-mapf/internal/layout"
)

// Allocator hands out the next destination of an agent that has reached its
// current one. taken reports way-points already promised to, or occupied by,
// another agent. Returning false leaves the agent where it is.
type Allocator interface {
	Next(a core.Agent, now float64, taken func(core.WaypointID) bool) (core.WaypointID, bool)
}

// AllocatorFunc adapts a function to the Allocator interface.
type AllocatorFunc func(a core.Agent, now float64, taken func(core.WaypointID) bool) (core.WaypointID, bool)

func (f AllocatorFunc) Next(a core.Agent, now float64, taken func(core.WaypointID) bool) (core.WaypointID, bool) {
	return f(a, now, taken)
}

// RandomAllocator draws destinations uniformly from a fixed target set.
type RandomAllocator struct {
	rng     *rand.Rand
	targets []core.WaypointID
}

// NewRandomAllocator creates a seeded allocator over targets.
func NewRandomAllocator(targets []core.WaypointID, seed int64) *RandomAllocator {
	return &RandomAllocator{
		rng:     rand.New(rand.NewSource(seed)),
		targets: append([]core.WaypointID(nil), targets...),
	}
}

// Next draws up to len(targets) candidates and returns the first one that is
// neither taken nor the agent's own position.
func (r *RandomAllocator) Next(a core.Agent, _ float64, taken func(core.WaypointID) bool) (core.WaypointID, bool) {
	for range r.targets {
		v := r.targets[r.rng.Intn(len(r.targets))]
		if v != a.NextNode && !taken(v) {
			return v, true
		}
	}
	return 0, false
}

// Targets returns the trip end points of a warehouse: stations and storage
// way-points that are not blocked, or the aisles when the layout has neither.
func Targets(l *layout.Layout) []core.WaypointID {
	var out []core.WaypointID
	for _, ids := range [][]core.WaypointID{l.Stations, l.Storage} {
		for _, id := range ids {
			if !l.Pods.IsBlocked(id) {
				out = append(out, id)
			}
		}
	}
	if len(out) == 0 {
		out = l.Roads()
	}
	return out
}
