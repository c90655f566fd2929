package algo

import (
	"container/heap"
	"context"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// CBS implements Conflict-Based Search over the agents of a batch. The root
// plans every agent independently; each conflict branches into two children,
// each forbidding one of the two agents the contested location and time.
type CBS struct {
	*planner
}

// FindPaths implements PathFinder.
func (c *CBS) FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent {
	return c.run(ctx, now, agents, c.plan)
}

// cbsNode represents a node in the CBS constraint tree.
type cbsNode struct {
	constraints []Constraint
	paths       map[int]core.Path
	stuck       map[int]bool // Agents without a path; they stay where they are
	cost        float64
	conflicts   int
	index       int
}

type cbsHeap []*cbsNode

func (h cbsHeap) Len() int { return len(h) }
func (h cbsHeap) Less(i, j int) bool {
	if h[i].cost != h[j].cost {
		return h[i].cost < h[j].cost
	}
	return h[i].conflicts < h[j].conflicts
}
func (h cbsHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *cbsHeap) Push(x any) {
	n := x.(*cbsNode)
	n.index = len(*h)
	*h = append(*h, n)
}
func (h *cbsHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return x
}

// cbsOpen is the open list; its order is the search method.
type cbsOpen struct {
	method SearchMethod
	heap   cbsHeap
	list   []*cbsNode
}

func (o *cbsOpen) push(n *cbsNode) {
	if o.method == BestFirst {
		heap.Push(&o.heap, n)
		return
	}
	o.list = append(o.list, n)
}

func (o *cbsOpen) pop() *cbsNode {
	switch o.method {
	case BestFirst:
		return heap.Pop(&o.heap).(*cbsNode)
	case DepthFirst:
		n := o.list[len(o.list)-1]
		o.list = o.list[:len(o.list)-1]
		return n
	}
	n := o.list[0]
	o.list = o.list[1:]
	return n
}

func (o *cbsOpen) len() int {
	if o.method == BestFirst {
		return o.heap.Len()
	}
	return len(o.list)
}

func (c *CBS) plan(b *batch) {
	idxs := b.remaining()
	if len(idxs) == 0 {
		return
	}
	gv := c.newGroupView(b, idxs)
	dl := c.deadlineFor(b, len(idxs))

	root := &cbsNode{paths: make(map[int]core.Path), stuck: make(map[int]bool)}
	for _, i := range idxs {
		c.replan(b, i, gv, root, dl)
	}
	c.evaluate(b, root)

	open := &cbsOpen{method: c.cfg.CBS.SearchMethod}
	open.push(root)
	best := root
	index := make(map[core.AgentID]int, len(idxs))
	for _, i := range idxs {
		index[b.agents[i].ID] = i
	}

	for expanded := 0; open.len() > 0 && expanded < c.cfg.CBS.MaxNodes; expanded++ {
		if dl.exceeded() {
			break
		}
		node := open.pop()
		conflict := FindFirstConflict(c.plans(b, node))
		if conflict == nil {
			if err := c.commitGroup(b, node.paths); err != nil {
				c.violation(b.ctx, err)
				break
			}
			return
		}
		if node.conflicts < best.conflicts || (node.conflicts == best.conflicts && node.cost < best.cost) {
			best = node
		}

		for _, id := range []core.AgentID{conflict.Agent1, conflict.Agent2} {
			i := index[id]
			if node.stuck[i] {
				continue
			}
			child := &cbsNode{
				constraints: append(append([]Constraint{}, node.constraints...), Constraint{
					Agent: id,
					Loc:   conflict.Loc,
					Start: conflict.Start,
					End:   conflict.End,
				}),
				paths: make(map[int]core.Path, len(node.paths)),
				stuck: make(map[int]bool, len(node.stuck)),
			}
			for k, v := range node.paths {
				child.paths[k] = v
			}
			for k, v := range node.stuck {
				child.stuck[k] = v
			}
			// Re-plan path for constrained agent
			if !c.replan(b, i, gv, child, dl) {
				continue
			}
			c.evaluate(b, child)
			open.push(child)
		}
	}

	c.log.Info("constraint tree exhausted, planning by priority",
		"agents", len(idxs), "conflicts", best.conflicts)
	c.planSequential(b, b.remaining(), nil)
}

// replan searches a path for agent i under the node's constraints. An agent
// without any path in the root stays put; in a child a failed search prunes
// the child.
func (c *CBS) replan(b *batch, i int, gv *groupView, node *cbsNode, dl deadline) bool {
	id := b.agents[i].ID
	var own []Constraint
	for _, con := range node.constraints {
		if con.Agent == id {
			own = append(own, con)
		}
	}
	s := c.searchFor(b, i)
	s.free = gv.constrained(own)
	s.deadline = dl
	res := c.search(b, s)
	if res.path != nil {
		node.paths[i] = res.path
		delete(node.stuck, i)
		return true
	}
	if len(node.constraints) > 0 {
		return false
	}
	node.paths[i] = core.Path{b.starts[i]}
	node.stuck[i] = true
	return true
}

func (c *CBS) plans(b *batch, node *cbsNode) map[core.AgentID][]core.Interval {
	plans := make(map[core.AgentID][]core.Interval, len(node.paths))
	for i, path := range node.paths {
		id := b.agents[i].ID
		plans[id] = path.Intervals(id, b.until)
	}
	return plans
}

// evaluate sets the node's cost, the summed arrival times, and its conflict
// count.
func (c *CBS) evaluate(b *batch, node *cbsNode) {
	node.cost = 0
	for _, path := range node.paths {
		node.cost += path.Duration()
	}
	node.conflicts = len(FindAllConflicts(c.plans(b, node)))
}
