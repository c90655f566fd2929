package algo

import (
	"context"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// PAS plans in priority classes. The agents of one class search
// independently inside the window; their plans are accepted in planning
// order as long as they conflict with nothing accepted before. Rejected
// agents drop to the next class; the last class plans one by one.
type PAS struct {
	*planner
}

// FindPaths implements PathFinder.
func (s *PAS) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return s.run(ctx, now, agents, s.plan)
}

func (s *PAS) plan(b *batch) {
	idxs := b.remaining()
	if len(idxs) == 0 {
		return
	}
	classes := priorityClasses(idxs, s.cfg.PAS.MaxPriorities)

	var demoted []int
	for c, class := range classes {
		class = append(demoted, class...)
		demoted = nil
		if c == len(classes)-1 {
			s.planSequential(b, class, nil)
			return
		}
		if b.stopped() {
			return
		}
		demoted = s.planClass(b, class)
	}
}

// priorityClasses splits the ordered agents into at most k classes of equal
// size, highest priority first.
func priorityClasses(idxs []int, k int) [][]int {
	k = max(1, min(k, len(idxs)))
	per := (len(idxs) + k - 1) / k
	var out [][]int
	for lo := 0; lo < len(idxs); lo += per {
		out = append(out, idxs[lo:min(lo+per, len(idxs))])
	}
	return out
}

// planClass commits the plans of the class that fit together and returns the
// agents that did not get one.
func (s *PAS) planClass(b *batch, class []int) []int {
	gv := s.newGroupView(b, class)
	dl := s.deadlineFor(b, len(class))

	accepted := make(map[int]core.Path)
	claims := make(map[core.AgentID][]core.Interval)
	var demoted []int
	for _, i := range class {
		a := b.agents[i]
		sp := s.searchFor(b, i)
		sp.free = gv.free
		sp.deadline = dl
		res := s.search(b, sp)
		if res.path == nil {
			demoted = append(demoted, i)
			continue
		}
		path := res.path.Truncate(b.until)
		ivs := path.Intervals(a.ID, b.until)
		claims[a.ID] = ivs
		if FindFirstConflict(claims) != nil || !s.fitsTable(b, ivs, accepted) {
			delete(claims, a.ID)
			demoted = append(demoted, i)
			continue
		}
		accepted[i] = path
	}
	if len(accepted) == 0 {
		return demoted
	}
	if err := s.commitGroup(b, accepted); err != nil {
		s.violation(b.ctx, err)
		for i := range accepted {
			demoted = append(demoted, i)
		}
	}
	return demoted
}

// fitsTable checks ivs against the table while ignoring the claims of the
// class's accepted agents and of the agent itself. Demoted class members keep
// their positions.
func (s *PAS) fitsTable(b *batch, ivs []core.Interval, accepted map[int]core.Path) bool {
	skip := make(map[core.AgentID]bool, len(accepted)+1)
	for i := range accepted {
		skip[b.agents[i].ID] = true
	}
	for _, iv := range ivs {
		skip[iv.Agent] = true
		if _, blocked := s.table.BlockerExcept(iv.Loc, iv.Start, iv.End, func(a core.AgentID) bool {
			return skip[a]
		}); blocked {
			return false
		}
	}
	return true
}
