package algo

import (
	"container/heap"
	"context"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// ODID plans agents with operator decomposition and independence detection.
// Every agent starts in its own group; groups whose plans conflict are merged
// and searched jointly, one agent's action at a time.
type ODID struct {
	*planner
}

// FindPaths implements PathFinder.
func (o *ODID) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return o.run(ctx, now, agents, o.plan)
}

func (o *ODID) plan(b *batch) {
	idxs := b.remaining()
	if len(idxs) == 0 {
		return
	}
	gv := o.newGroupView(b, idxs)
	dl := o.deadlineFor(b, len(idxs))

	paths, ok := o.planIndependently(b, idxs, gv, dl)
	if !ok {
		o.planSequential(b, idxs, nil)
		return
	}

	groupOf := make(map[core.AgentID]int, len(idxs))
	groups := make(map[int][]int, len(idxs))
	for g, i := range idxs {
		groupOf[b.agents[i].ID] = g
		groups[g] = []int{i}
	}

	for {
		if dl.exceeded() {
			o.planSequential(b, idxs, nil)
			return
		}
		conflict := o.firstCrossGroupConflict(b, paths, groupOf)
		if conflict == nil {
			break
		}
		g1, g2 := groupOf[conflict.Agent1], groupOf[conflict.Agent2]
		merged := append(append([]int{}, groups[g1]...), groups[g2]...)
		sort.Slice(merged, func(x, y int) bool { return b.agents[merged[x]].ID < b.agents[merged[y]].ID })
		delete(groups, g2)
		groups[g1] = merged
		for _, i := range merged {
			groupOf[b.agents[i].ID] = g1
		}

		joint := o.jointSearch(b, merged, gv, dl)
		if joint == nil {
			o.log.Info("joint search exhausted, planning by priority", "group", len(merged))
			o.planSequential(b, idxs, nil)
			return
		}
		for i, path := range joint {
			paths[i] = path
		}
	}

	if err := o.commitGroup(b, paths); err != nil {
		o.log.Info("independent plans collide on commit, planning by priority", "error", err)
		o.planSequential(b, idxs, nil)
	}
}

// planIndependently runs a single-agent search per agent, optionally in
// parallel. An agent without a path stays where it is.
func (o *ODID) planIndependently(b *batch, idxs []int, gv *groupView, dl deadline) (map[int]core.Path, bool) {
	results := make([]core.Path, len(idxs))
	search := func(n int) {
		i := idxs[n]
		s := o.searchFor(b, i)
		s.free = gv.free
		s.deadline = dl
		res := o.search(b, s)
		if res.path == nil {
			res.path = core.Path{b.starts[i]}
		}
		results[n] = res.path
	}

	if o.cfg.ODID.Parallel && len(idxs) > 1 {
		eg, ctx := errgroup.WithContext(b.ctx)
		eg.SetLimit(runtime.GOMAXPROCS(0))
		for n := range idxs {
			eg.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				search(n)
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, false
		}
	} else {
		for n := range idxs {
			search(n)
		}
	}

	paths := make(map[int]core.Path, len(idxs))
	for n, i := range idxs {
		paths[i] = results[n]
	}
	return paths, true
}

// firstCrossGroupConflict returns the earliest conflict between agents of
// different groups. Without final reservations the parking after each path is
// left out of the comparison.
func (o *ODID) firstCrossGroupConflict(b *batch, paths map[int]core.Path, groupOf map[core.AgentID]int) *Conflict {
	plans := make(map[core.AgentID][]core.Interval, len(paths))
	for i, path := range paths {
		id := b.agents[i].ID
		hold := b.until
		if !o.cfg.ODID.UseFinalReservations {
			hold = path.End().T
		}
		plans[id] = path.Intervals(id, hold)
	}
	for _, c := range FindAllConflicts(plans) {
		if groupOf[c.Agent1] != groupOf[c.Agent2] {
			return &c
		}
	}
	return nil
}

// odState is a node of the operator decomposition search. Each expansion
// applies one action of the agent with the earliest clock.
type odState struct {
	steps  []core.Step // Current step of each member
	done   []bool      // Member parked on its goal for good
	claims []core.Interval
	g, f   float64
	parent *odState
	actor  int
	index  int
}

type odHeap []*odState

func (h odHeap) Len() int { return len(h) }
func (h odHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].g > h[j].g
}
func (h odHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *odHeap) Push(x any) {
	n := x.(*odState)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *odHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

func (st *odState) key() string {
	var sb strings.Builder
	for k, s := range st.steps {
		sb.WriteString(strconv.Itoa(int(s.Node)))
		sb.WriteByte('@')
		sb.WriteString(strconv.FormatInt(int64(math.Round(s.T/core.TimeTolerance)), 10))
		if st.done[k] {
			sb.WriteByte('!')
		}
		sb.WriteByte(';')
	}
	return sb.String()
}

// jointSearch plans the members together. It returns nil when the node budget
// or the deadline runs out first.
func (o *ODID) jointSearch(b *batch, members []int, gv *groupView, dl deadline) map[int]core.Path {
	n := len(members)
	agents := make([]core.Agent, n)
	goals := make([]core.WaypointID, n)
	limits := make([]float64, n)
	root := &odState{steps: make([]core.Step, n), done: make([]bool, n), actor: -1}
	for k, i := range members {
		agents[k] = b.agents[i]
		goals[k] = b.agents[i].DestinationNode
		root.steps[k] = b.starts[i]
		static := o.routes.estimate(b.starts[i].Node, goals[k], agents[k].Physics)
		if math.IsInf(static, 1) {
			return nil
		}
		limits[k] = b.starts[i].T + 2*static + 20*o.cfg.LengthOfAWaitStep
	}
	h := func(st *odState) float64 {
		total := 0.0
		for k := range st.steps {
			if !st.done[k] {
				total += o.routes.estimate(st.steps[k].Node, goals[k], agents[k].Physics)
			}
		}
		return total
	}
	root.f = h(root)

	// allowed checks an action interval of member k against the outside
	// world, the claims of other members, and where they currently stand.
	allowed := func(st *odState, k int, iv core.Interval) bool {
		if iv.End-iv.Start < core.TimeTolerance {
			return true
		}
		if !gv.free(iv) {
			return false
		}
		for _, c := range st.claims {
			if c.Agent != iv.Agent && c.Loc == iv.Loc && c.Overlaps(iv.Start, iv.End) {
				return false
			}
		}
		for j, s := range st.steps {
			if j == k || st.done[j] {
				continue
			}
			if iv.Loc == core.NodeLocation(s.Node) && iv.End > s.T+core.TimeTolerance {
				return false
			}
		}
		return true
	}
	child := func(st *odState, k int, next core.Step, ivs []core.Interval, finish bool) *odState {
		c := &odState{
			steps:  append([]core.Step{}, st.steps...),
			done:   append([]bool{}, st.done...),
			claims: append(append([]core.Interval{}, st.claims...), ivs...),
			parent: st,
			actor:  k,
		}
		c.g = st.g + (next.T - st.steps[k].T)
		c.steps[k] = next
		c.done[k] = finish
		c.f = c.g + h(c)
		return c
	}

	open := &odHeap{}
	heap.Push(open, root)
	closed := make(map[string]bool)
	budget := o.cfg.ODID.MaxNodeCountPerAgent * n
	expansions := 0
	defer func() { b.expansions.Add(int64(expansions)) }()

	for open.Len() > 0 {
		st := heap.Pop(open).(*odState)
		key := st.key()
		if closed[key] {
			continue
		}
		closed[key] = true
		expansions++
		if expansions > budget {
			return nil
		}
		if expansions%checkEvery == 0 && dl.exceeded() {
			return nil
		}

		// The member with the earliest clock acts next.
		k := -1
		for j, s := range st.steps {
			if !st.done[j] && (k < 0 || s.T < st.steps[k].T) {
				k = j
			}
		}
		if k < 0 {
			return odPaths(st, members, root)
		}

		a := agents[k]
		cur := st.steps[k]
		id := a.ID

		if cur.Node == goals[k] {
			park := core.Interval{Loc: core.NodeLocation(cur.Node), Start: cur.T, End: b.until, Agent: id}
			if allowed(st, k, park) {
				heap.Push(open, child(st, k, cur, []core.Interval{park}, true))
			}
		}

		if w := cur.T + o.cfg.LengthOfAWaitStep; w <= limits[k] {
			iv := core.Interval{Loc: core.NodeLocation(cur.Node), Start: cur.T, End: w, Agent: id}
			if allowed(st, k, iv) {
				next := core.Step{Node: cur.Node, T: w, Orientation: cur.Orientation}
				heap.Push(open, child(st, k, next, []core.Interval{iv}, false))
			}
		}

		for _, e := range o.g.Edges[cur.Node] {
			u := e.To
			if !o.passable(a, u, b.starts[members[k]].Node, goals[k]) {
				continue
			}
			dt, ori := a.Physics.TravelTime(o.g, cur.Orientation, cur.Node, u)
			arrive := cur.T + dt
			if math.IsInf(dt, 1) || arrive > limits[k] {
				continue
			}
			ivs := []core.Interval{
				{Loc: core.NodeLocation(cur.Node), Start: cur.T, End: arrive, Agent: id},
				{Loc: core.EdgeLocation(cur.Node, u), Start: cur.T, End: arrive, Agent: id},
				{Loc: core.NodeLocation(u), Start: cur.T, End: arrive, Agent: id},
			}
			ok := true
			for _, iv := range ivs {
				if !allowed(st, k, iv) {
					ok = false
					break
				}
			}
			if ok {
				heap.Push(open, child(st, k, core.Step{Node: u, T: arrive, Orientation: ori}, ivs, false))
			}
		}
	}
	return nil
}

// odPaths rebuilds every member's path from the actions leading to st.
func odPaths(st *odState, members []int, root *odState) map[int]core.Path {
	steps := make([][]core.Step, len(members))
	for n := st; n != nil && n.parent != nil; n = n.parent {
		k := n.actor
		if n.done[k] && !n.parent.done[k] {
			continue
		}
		steps[k] = append(steps[k], n.steps[k])
	}
	out := make(map[int]core.Path, len(members))
	for k, i := range members {
		path := core.Path{root.steps[k]}
		for j := len(steps[k]) - 1; j >= 0; j-- {
			path = append(path, steps[k][j])
		}
		out[i] = path
	}
	return out
}
