package algo

import (
	"fmt"
	"sort"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// Conflict represents two agents claiming one location at overlapping times.
type Conflict struct {
	Agent1, Agent2 core.AgentID
	Loc            core.Location
	Start          float64 // Start of the overlap
	End            float64 // End of the overlap
}

func (c Conflict) String() string {
	return fmt.Sprintf("agents %d/%d on %s [%.3f,%.3f)", c.Agent1, c.Agent2, c.Loc, c.Start, c.End)
}

// Constraint prohibits an agent from holding a location during [Start, End).
type Constraint struct {
	Agent      core.AgentID
	Loc        core.Location
	Start, End float64
}

// forbids reports whether the constraint rules out iv.
func (c Constraint) forbids(iv core.Interval) bool {
	return c.Agent == iv.Agent && c.Loc == iv.Loc && iv.Start < c.End-core.TimeTolerance && c.Start < iv.End-core.TimeTolerance
}

// sortedAgentIDs returns sorted agent IDs of a plan map.
func sortedAgentIDs(plans map[core.AgentID][]core.Interval) []core.AgentID {
	ids := make([]core.AgentID, 0, len(plans))
	for id := range plans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FindAllConflicts returns every pairwise overlap between the intervals of
// different agents, ordered by start time.
func FindAllConflicts(plans map[core.AgentID][]core.Interval) []Conflict {
	byLoc := make(map[core.Location][]core.Interval)
	for _, id := range sortedAgentIDs(plans) {
		for _, iv := range plans[id] {
			if iv.End-iv.Start < core.TimeTolerance {
				continue
			}
			iv.Agent = id
			byLoc[iv.Loc] = append(byLoc[iv.Loc], iv)
		}
	}

	var conflicts []Conflict
	for loc, list := range byLoc {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Start < list[j].Start })
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				a, b := list[i], list[j]
				if b.Start >= a.End-core.TimeTolerance {
					break
				}
				if a.Agent == b.Agent || !a.Overlaps(b.Start, b.End) {
					continue
				}
				first, second := a.Agent, b.Agent
				if second < first {
					first, second = second, first
				}
				conflicts = append(conflicts, Conflict{
					Agent1: first,
					Agent2: second,
					Loc:    loc,
					Start:  max(a.Start, b.Start),
					End:    min(a.End, b.End),
				})
			}
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflictLess(conflicts[i], conflicts[j]) })
	return conflicts
}

// FindFirstConflict returns the earliest conflict, or nil.
func FindFirstConflict(plans map[core.AgentID][]core.Interval) *Conflict {
	all := FindAllConflicts(plans)
	if len(all) == 0 {
		return nil
	}
	return &all[0]
}

func conflictLess(a, b Conflict) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	if a.Agent1 != b.Agent1 {
		return a.Agent1 < b.Agent1
	}
	if a.Agent2 != b.Agent2 {
		return a.Agent2 < b.Agent2
	}
	if a.Loc.From != b.Loc.From {
		return a.Loc.From < b.Loc.From
	}
	return a.Loc.To < b.Loc.To
}

// groupView is the occupancy seen by agents planned jointly: the table
// without the group's own claims, plus the group's moves in progress, plus
// any constraints.
type groupView struct {
	p       *planner
	members map[core.AgentID]bool
	fixed   []core.Interval // Moves in progress of group members
}

func (p *planner) newGroupView(b *batch, idxs []int) *groupView {
	gv := &groupView{p: p, members: make(map[core.AgentID]bool, len(idxs))}
	for _, i := range idxs {
		a := b.agents[i]
		gv.members[a.ID] = true
		gv.fixed = append(gv.fixed, a.ApproachIntervals(b.now)...)
	}
	return gv
}

// free reports whether iv is free of non-members and of other members' moves
// in progress.
func (gv *groupView) free(iv core.Interval) bool {
	if _, blocked := gv.p.table.BlockerExcept(iv.Loc, iv.Start, iv.End, func(a core.AgentID) bool {
		return a == iv.Agent || gv.members[a]
	}); blocked {
		return false
	}
	for _, f := range gv.fixed {
		if f.Agent != iv.Agent && f.Loc == iv.Loc && f.Overlaps(iv.Start, iv.End) {
			return false
		}
	}
	return true
}

// constrained wraps free with the constraints of a constraint tree node.
func (gv *groupView) constrained(cs []Constraint) func(core.Interval) bool {
	return func(iv core.Interval) bool {
		for _, c := range cs {
			if c.forbids(iv) {
				return false
			}
		}
		return gv.free(iv)
	}
}
