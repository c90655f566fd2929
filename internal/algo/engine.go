package algo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
	"github.com/elektrokombinacija/rmfs-mapf/internal/reservation"
)

// planner holds what every strategy shares: graph, table, configuration and
// the batch protocol that wraps each strategy's own planning step.
type planner struct {
	cfg       Config
	g         *core.Graph
	table     *reservation.Table
	obstacles core.Obstacles
	log       *slog.Logger
	routes    *routes
	rule      *priorityRule
	deadlock  *DeadlockHandler
	metrics   *instruments

	mu       sync.Mutex
	lastCall float64
	called   bool
}

func newPlanner(cfg Config, g *core.Graph, table *reservation.Table, o options) (*planner, error) {
	rule, err := compilePriorityRule(cfg.PriorityRule)
	if err != nil {
		return nil, fmt.Errorf("algo: %w", err)
	}
	log := o.logger.With("method", cfg.Method.String())
	p := &planner{
		cfg:       cfg,
		g:         g,
		table:     table,
		obstacles: o.obstacles,
		log:       log,
		routes:    newRoutes(g),
		rule:      rule,
		metrics:   newInstruments(o.meters, cfg.Method),
	}
	if cfg.UseDeadlockHandler {
		p.deadlock = NewDeadlockHandler(cfg.Deadlock, cfg.Seed, cfg.LengthOfAWaitStep, log)
	}
	return p, nil
}

// Name returns the strategy name.
func (p *planner) Name() string { return p.cfg.Method.String() }

// Config returns the effective configuration, after AutoSetParameter tuning.
func (p *planner) Config() Config { return p.cfg }

// batch is the state of one FindPaths call.
type batch struct {
	ctx    context.Context
	now    float64
	until  float64 // Parking horizon: now+window, or +Inf
	agents []core.Agent
	starts []core.Step
	order  []int // Planning order over agents
	done   []bool

	overall    time.Time
	expansions atomic.Int64
}

func (b *batch) windowed() bool { return b.until < core.Forever }

// remaining returns the agents still to be planned, in planning order.
func (b *batch) remaining() []int {
	var out []int
	for _, i := range b.order {
		if !b.done[i] {
			out = append(out, i)
		}
	}
	return out
}

func (b *batch) stopped() bool {
	return deadline{ctx: b.ctx, at: b.overall}.exceeded()
}

// deadlineFor returns the search deadline for planning n agents together.
func (p *planner) deadlineFor(b *batch, n int) deadline {
	at := b.overall
	if p.cfg.RuntimeLimitPerAgent > 0 {
		at = earlier(at, time.Now().Add(time.Duration(n)*p.cfg.RuntimeLimitPerAgent))
	}
	return deadline{ctx: b.ctx, at: at}
}

// run executes the batch protocol around plan. plan sees the agents left after
// fixed agents and deadlock interventions; whatever it leaves undecided waits.
func (p *planner) run(ctx context.Context, now float64, agents []core.Agent, plan func(*batch)) []core.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.skip(now, agents) {
		out := make([]core.Agent, len(agents))
		copy(out, agents)
		return out
	}

	started := time.Now()
	b := p.begin(ctx, now, agents, started)
	p.intervene(b)
	if !b.stopped() {
		plan(b)
	}
	for _, i := range b.order {
		if !b.done[i] {
			p.wait(b, i, "runtime budget exhausted")
		}
	}
	p.recordOutcomes(b)

	p.lastCall, p.called = now, true
	p.metrics.expanded(ctx, int(b.expansions.Load()))
	p.metrics.call(ctx, time.Since(started))
	return b.agents
}

// skip reports whether the call falls inside the clocking interval of the
// previous one and no agent asked for a new plan.
func (p *planner) skip(now float64, agents []core.Agent) bool {
	if p.cfg.Clocking <= 0 || !p.called || now >= p.lastCall+p.cfg.Clocking-core.TimeTolerance {
		return false
	}
	for _, a := range agents {
		if a.RequestReoptimization {
			return false
		}
	}
	p.log.Debug("planning skipped inside clocking interval", "now", now, "last", p.lastCall)
	return true
}

// begin copies the agents and re-reserves, for each of them, the move in
// progress and the way-point it stands on (or is about to reach) until the
// batch horizon.
func (p *planner) begin(ctx context.Context, now float64, agents []core.Agent, started time.Time) *batch {
	until := core.Forever
	if p.cfg.Windowed() {
		until = now + p.cfg.Window()
	}
	b := &batch{
		ctx:    ctx,
		now:    now,
		until:  until,
		agents: make([]core.Agent, len(agents)),
		starts: make([]core.Step, len(agents)),
		done:   make([]bool, len(agents)),
	}
	if p.cfg.RunTimeLimitOverall > 0 {
		b.overall = started.Add(p.cfg.RunTimeLimitOverall)
	}

	holds := make(map[core.AgentID][]core.Interval, len(agents))
	for i, a := range agents {
		start := a.PlanningStart(now)
		a.Path = core.Path{start}
		a.Reservations = holding(a, start, now, until)
		a.RequestReoptimization = false
		b.agents[i] = a
		b.starts[i] = start
		holds[a.ID] = a.Reservations
	}
	if err := p.table.ReplaceGroup(holds); err != nil {
		p.violation(ctx, fmt.Errorf("re-reserving agent positions: %w", err))
		for _, a := range b.agents {
			if err := p.table.Replace(a.ID, a.Reservations); err != nil {
				p.violation(ctx, err)
			}
		}
	}

	if p.deadlock != nil {
		for _, a := range b.agents {
			p.deadlock.Observe(a, now)
		}
	}
	b.order = p.orderAgents(b)
	for i, a := range b.agents {
		if a.FixedPosition {
			b.done[i] = true
		}
	}
	return b
}

// holding returns the intervals an agent keeps while it has no new plan: the
// move in progress and its planning start way-point until the horizon.
func holding(a core.Agent, start core.Step, now, until float64) []core.Interval {
	ivs := a.ApproachIntervals(now)
	if until > start.T+core.TimeTolerance {
		ivs = append(ivs, core.Interval{Loc: core.NodeLocation(start.Node), Start: start.T, End: until, Agent: a.ID})
	}
	return ivs
}

// tryCommit replaces the agent's reservations with those of path (clipped to
// the window) plus extra. It reports the refusal instead of treating it as a
// defect; callers use it for tentative moves.
func (p *planner) tryCommit(b *batch, i int, path core.Path, extra ...core.Interval) error {
	a := b.agents[i]
	if b.windowed() {
		path = path.Truncate(b.until)
	}
	ivs := append(a.ApproachIntervals(b.now), path.Intervals(a.ID, b.until)...)
	ivs = append(ivs, extra...)
	if err := p.table.Replace(a.ID, ivs); err != nil {
		return err
	}
	b.agents[i].Path = path
	b.agents[i].Reservations = ivs
	b.done[i] = true
	return nil
}

// commit is tryCommit for plans that were checked against the table. A
// refusal is a defect: it is logged, panics in strict mode, and the agent
// waits.
func (p *planner) commit(b *batch, i int, path core.Path, extra ...core.Interval) bool {
	if err := p.tryCommit(b, i, path, extra...); err != nil {
		p.violation(b.ctx, err)
		p.wait(b, i, "commit refused")
		return false
	}
	return true
}

// commitGroup commits jointly planned paths in one step.
func (p *planner) commitGroup(b *batch, paths map[int]core.Path) error {
	plans := make(map[core.AgentID][]core.Interval, len(paths))
	for i, path := range paths {
		a := b.agents[i]
		if b.windowed() {
			path = path.Truncate(b.until)
			paths[i] = path
		}
		plans[a.ID] = append(a.ApproachIntervals(b.now), path.Intervals(a.ID, b.until)...)
	}
	if err := p.table.ReplaceGroup(plans); err != nil {
		return err
	}
	for i, path := range paths {
		b.agents[i].Path = path
		b.agents[i].Reservations = plans[b.agents[i].ID]
		b.done[i] = true
	}
	return nil
}

// waitPath is a wait of one wait step at the planning start, clipped to the
// batch horizon.
func (p *planner) waitPath(b *batch, i int, d float64) core.Path {
	start := b.starts[i]
	path := core.Path{start}
	end := min(start.T+d, b.until)
	if end > start.T+core.TimeTolerance {
		path = append(path, core.Step{Node: start.Node, T: end, Orientation: start.Orientation})
	}
	return path
}

// wait assigns the agent a wait of LengthOfAWaitStep. An agent that is not at
// its destination logs the reason as backpressure.
func (p *planner) wait(b *batch, i int, reason string) {
	a := b.agents[i]
	if !a.AtDestination() {
		p.log.Info("no feasible move, waiting", "agent", a.ID, "node", b.starts[i].Node, "reason", reason)
		p.metrics.wait(b.ctx)
	}
	path := p.waitPath(b, i, p.cfg.LengthOfAWaitStep)
	if err := p.tryCommit(b, i, path); err != nil {
		// The positions reserved by begin stay in place.
		p.violation(b.ctx, err)
		b.agents[i].Path = path
		b.done[i] = true
	}
}

// violation reports a refused commit that the planning logic should have
// prevented.
func (p *planner) violation(ctx context.Context, err error) {
	p.metrics.conflict(ctx)
	p.log.Error("reservation invariant violated", "error", err)
	if p.cfg.StrictReservations {
		panic(err)
	}
}

// tableFree is the default occupancy test: nothing of another agent overlaps.
func (p *planner) tableFree(iv core.Interval) bool {
	return p.table.IsFree(iv.Loc, iv.Start, iv.End, iv.Agent)
}

// searchFor returns the default space-time query for agent i: its planning
// start to its destination against the reservation table.
func (p *planner) searchFor(b *batch, i int) searchSpec {
	a := b.agents[i]
	return searchSpec{
		agent:     a,
		start:     b.starts[i],
		goal:      a.DestinationNode,
		windowEnd: b.until,
		hold:      b.until,
		free:      p.tableFree,
		banned:    p.bans(b, a.ID),
		deadline:  p.deadlineFor(b, 1),
	}
}

// search runs s, dropping deadlock bans if they leave no path at all.
func (p *planner) search(b *batch, s searchSpec) searchResult {
	res := p.spaceTimeAStar(s)
	if res.path == nil && s.banned != nil {
		s.banned = nil
		again := p.spaceTimeAStar(s)
		again.expansions += res.expansions
		res = again
	}
	b.expansions.Add(int64(res.expansions))
	return res
}

// routeFor returns the static route of agent i, dropping deadlock bans if they
// leave no route at all.
func (p *planner) routeFor(b *batch, i int, q routeQuery) []core.WaypointID {
	q.agent = b.agents[i]
	q.start = b.starts[i]
	q.goal = b.agents[i].DestinationNode
	q.banned = p.bans(b, q.agent.ID)
	nodes := p.route(q)
	if nodes == nil && q.banned != nil {
		q.banned = nil
		nodes = p.route(q)
	}
	return nodes
}

func (p *planner) bans(b *batch, id core.AgentID) func(from, to core.WaypointID) bool {
	if p.deadlock == nil || !p.deadlock.HasBans(id, b.now) {
		return nil
	}
	return func(from, to core.WaypointID) bool { return p.deadlock.Banned(id, from, to, b.now) }
}

// freePrefix returns the longest prefix of path whose steps are free inside
// the window and whose last way-point can be held until the horizon, and the
// index of the first step that is not free (-1 if every step is).
func (p *planner) freePrefix(b *batch, i int, path core.Path, free func(core.Interval) bool) (core.Path, int) {
	s := searchSpec{agent: b.agents[i], windowEnd: b.until, free: free}
	blocked := -1
	k := 1
	for ; k < len(path); k++ {
		from, to := path[k-1], path[k]
		var ok bool
		if from.Node == to.Node {
			ok = s.allows(core.NodeLocation(from.Node), from.T, to.T)
		} else {
			ok = s.allowsMove(from.Node, to.Node, from.T, to.T)
		}
		if !ok {
			blocked = k
			break
		}
	}
	for j := k - 1; j > 0; j-- {
		if s.allows(core.NodeLocation(path[j].Node), path[j].T, b.until) {
			return path[:j+1], blocked
		}
	}
	return path[:1], blocked
}

// planSequential plans the given agents one after another with space-time A*
// against the table, each committing before the next plans. It is the
// prioritized fallback of the joint strategies.
func (p *planner) planSequential(b *batch, idxs []int, bias func(core.AgentID) func(core.WaypointID, float64, float64) float64) {
	for _, i := range idxs {
		if b.done[i] {
			continue
		}
		if b.stopped() {
			return
		}
		s := p.searchFor(b, i)
		if bias != nil {
			s.bias = bias(b.agents[i].ID)
		}
		res := p.search(b, s)
		if res.path == nil {
			p.wait(b, i, "no path within the search budget")
			continue
		}
		p.commit(b, i, res.path)
	}
}

// intervene applies deadlock handler decisions before the strategy plans.
func (p *planner) intervene(b *batch) {
	if p.deadlock == nil {
		return
	}
	view := batchView{p: p, b: b}
	for _, i := range b.order {
		if b.done[i] {
			continue
		}
		a := b.agents[i]
		act := p.deadlock.Decide(a, b.now, view)
		switch act.Kind {
		case ExtraWait:
			if err := p.tryCommit(b, i, p.waitPath(b, i, act.Wait)); err == nil {
				p.metrics.intervention(b.ctx)
			}
		case Evade:
			start := b.starts[i]
			dt, ori := a.Physics.TravelTime(p.g, start.Orientation, start.Node, act.To)
			path := core.Path{start, {Node: act.To, T: start.T + dt, Orientation: ori}}
			if err := p.tryCommit(b, i, path); err == nil {
				p.metrics.intervention(b.ctx)
				p.log.Debug("deadlock evasion", "agent", a.ID, "from", start.Node, "to", act.To)
			}
		}
	}
}

// recordOutcomes tells the deadlock handler which agents could not move and
// who held the way-point they wanted.
func (p *planner) recordOutcomes(b *batch) {
	if p.deadlock == nil {
		return
	}
	for i, a := range b.agents {
		if a.FixedPosition {
			continue
		}
		if !a.Path.IsWaiting() || a.AtDestination() {
			p.deadlock.Record(a.ID, 0, false, core.NoAgent)
			continue
		}
		nodes := p.route(routeQuery{agent: a, start: b.starts[i], goal: a.DestinationNode})
		if len(nodes) < 2 {
			p.deadlock.Record(a.ID, 0, false, core.NoAgent)
			continue
		}
		want := nodes[1]
		blocker := core.NoAgent
		t := b.starts[i].T
		if iv, ok := p.table.Blocker(core.NodeLocation(want), t, t+p.cfg.LengthOfAWaitStep, a.ID); ok {
			blocker = iv.Agent
		}
		p.deadlock.Record(a.ID, want, true, blocker)
	}
}

// batchView answers the deadlock handler's questions about the batch.
type batchView struct {
	p *planner
	b *batch
}

func (v batchView) agent(id core.AgentID) (core.Agent, bool) {
	for _, a := range v.b.agents {
		if a.ID == id {
			return a, true
		}
	}
	return core.Agent{}, false
}

func (v batchView) routeOf(a core.Agent) []core.WaypointID {
	return v.p.route(routeQuery{agent: a, start: a.PlanningStart(v.b.now), goal: a.DestinationNode})
}

func (v batchView) canEnter(a core.Agent, to core.WaypointID) bool {
	start := a.PlanningStart(v.b.now)
	if !v.p.passable(a, to, start.Node, a.DestinationNode) {
		return false
	}
	dt, _ := a.Physics.TravelTime(v.p.g, start.Orientation, start.Node, to)
	s := searchSpec{agent: a, windowEnd: v.b.until, free: v.p.tableFree}
	end := start.T + dt
	return s.allowsMove(start.Node, to, start.T, end) &&
		s.allows(core.NodeLocation(to), end, end+v.p.cfg.LengthOfAWaitStep)
}

func (v batchView) neighbors(n core.WaypointID) []core.WaypointID {
	return v.p.g.Neighbors(n)
}
