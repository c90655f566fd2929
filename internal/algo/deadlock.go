package algo

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// InterventionKind is what the deadlock handler asks of an agent.
type InterventionKind int

const (
	NoIntervention InterventionKind = iota
	ExtraWait                       // Wait Intervention.Wait seconds
	Evade                           // Step aside to Intervention.To
)

// Intervention is a deadlock handler decision for one agent and one tick.
type Intervention struct {
	Kind InterventionKind
	Wait float64
	To   core.WaypointID
}

// deadlockView is what the handler needs to know about the current batch.
type deadlockView interface {
	agent(id core.AgentID) (core.Agent, bool)
	routeOf(a core.Agent) []core.WaypointID
	canEnter(a core.Agent, to core.WaypointID) bool
	neighbors(v core.WaypointID) []core.WaypointID
}

type ban struct {
	from, to core.WaypointID
	until    float64
}

type agentHistory struct {
	rng       *rand.Rand
	positions []core.WaypointID // Distinct consecutive way-points, oldest first
	last      core.WaypointID
	seen      bool
	wasMoving bool
	stalled   int

	wanted    core.WaypointID
	hasWanted bool
	blockedBy core.AgentID

	bans            []ban
	rightOfWayUntil float64
}

// DeadlockHandler watches per-agent histories for ping-pong oscillation and
// mutual blocking, and answers with randomized waits, evasions and temporary
// move bans. Ties between two agents go to the agent with the lower ID: the
// higher ID yields. Randomness is seeded per agent from the configured seed
// and the agent ID, so runs are reproducible.
type DeadlockHandler struct {
	cfg      DeadlockConfig
	seed     int64
	waitStep float64
	log      *slog.Logger

	mu     sync.Mutex
	agents map[core.AgentID]*agentHistory
}

// NewDeadlockHandler creates a handler.
func NewDeadlockHandler(cfg DeadlockConfig, seed int64, waitStep float64, logger *slog.Logger) *DeadlockHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLength < 4 {
		cfg.HistoryLength = 4
	}
	if cfg.StallTicks < 1 {
		cfg.StallTicks = 1
	}
	return &DeadlockHandler{
		cfg:      cfg,
		seed:     seed,
		waitStep: waitStep,
		log:      logger,
		agents:   make(map[core.AgentID]*agentHistory),
	}
}

func (d *DeadlockHandler) history(id core.AgentID) *agentHistory {
	h, ok := d.agents[id]
	if !ok {
		h = &agentHistory{
			rng:       rand.New(rand.NewSource(d.seed*7919 + int64(id))),
			blockedBy: core.NoAgent,
		}
		d.agents[id] = h
	}
	return h
}

// Observe records the agent's position at the start of a planning tick.
func (d *DeadlockHandler) Observe(a core.Agent, now float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.history(a.ID)

	kept := h.bans[:0]
	for _, b := range h.bans {
		if b.until > now+core.TimeTolerance {
			kept = append(kept, b)
		}
	}
	h.bans = kept

	// A moving agent counts at the way-point it is bound for.
	pos := a.NextNode
	moving := a.Moving(now)
	arrived := !h.seen || pos != h.last
	if arrived {
		h.positions = append(h.positions, pos)
		if len(h.positions) > d.cfg.HistoryLength {
			h.positions = h.positions[len(h.positions)-d.cfg.HistoryLength:]
		}
	}
	if moving || arrived || h.wasMoving || a.AtDestination() {
		h.stalled = 0
	} else {
		h.stalled++
	}
	h.last, h.seen, h.wasMoving = pos, true, moving
}

// Record stores the outcome of a tick: the way-point the agent wanted next and
// the agent holding it, if the agent could not move.
func (d *DeadlockHandler) Record(id core.AgentID, want core.WaypointID, wanted bool, blocker core.AgentID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.history(id)
	h.wanted, h.hasWanted = want, wanted
	if !wanted {
		blocker = core.NoAgent
	}
	h.blockedBy = blocker
}

// Stalled returns the number of consecutive observations without progress.
func (d *DeadlockHandler) Stalled(id core.AgentID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.agents[id]; ok {
		return h.stalled
	}
	return 0
}

// HasRightOfWay reports whether the agent was granted precedence after its
// partner yielded.
func (d *DeadlockHandler) HasRightOfWay(id core.AgentID, now float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.agents[id]
	return ok && h.rightOfWayUntil > now+core.TimeTolerance
}

// HasBans reports whether any move of the agent is banned at now.
func (d *DeadlockHandler) HasBans(id core.AgentID, now float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.agents[id]
	if !ok {
		return false
	}
	for _, b := range h.bans {
		if b.until > now+core.TimeTolerance {
			return true
		}
	}
	return false
}

// Banned reports whether the move from -> to is banned for the agent at now.
// Bans are advisory: planners drop them when they leave no route at all.
func (d *DeadlockHandler) Banned(id core.AgentID, from, to core.WaypointID, now float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.agents[id]
	if !ok {
		return false
	}
	for _, b := range h.bans {
		if b.from == from && b.to == to && b.until > now+core.TimeTolerance {
			return true
		}
	}
	return false
}

// Decide returns the intervention for agent a at this tick. Interventions of a
// moving agent start where its current move ends.
func (d *DeadlockHandler) Decide(a core.Agent, now float64, view deadlockView) Intervention {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.history(a.ID)
	if a.FixedPosition {
		return Intervention{}
	}

	if pingPong(h.positions) {
		h.positions = h.positions[len(h.positions)-1:]
		wait := d.waitStep * float64(2+h.rng.Intn(4))
		d.log.Debug("ping-pong detected", "agent", a.ID, "wait", wait)
		return Intervention{Kind: ExtraWait, Wait: wait}
	}

	if h.stalled < d.cfg.StallTicks || !h.hasWanted || h.blockedBy == core.NoAgent {
		return Intervention{}
	}

	partner := h.blockedBy
	ph, ok := d.agents[partner]
	pa, found := view.agent(partner)
	if ok && found && ph.hasWanted && ph.blockedBy == a.ID && ph.wanted == a.NextNode {
		yielder, to := d.pickYielder(a, pa, view)
		if yielder == core.NoAgent {
			return Intervention{}
		}
		if yielder != a.ID {
			// The partner steps aside when its own turn comes.
			return Intervention{}
		}
		hold := d.waitStep * float64(3+h.rng.Intn(4))
		h.bans = append(h.bans, ban{from: to, to: a.NextNode, until: now + hold})
		ph.rightOfWayUntil = now + hold
		h.stalled, ph.stalled = 0, 0
		d.log.Debug("mutual block, yielding", "agent", a.ID, "partner", partner, "to", to)
		return Intervention{Kind: Evade, To: to}
	}

	// Blocked by an agent that is not waiting for us: discourage the
	// blocked move for one cycle so the planner may find another way.
	h.bans = append(h.bans, ban{from: a.NextNode, to: h.wanted, until: now + d.waitStep})
	h.stalled = 0
	d.log.Debug("stall, banning move", "agent", a.ID, "from", a.NextNode, "to", h.wanted, "blocker", partner)
	return Intervention{}
}

// pickYielder chooses which agent of a mutually blocked pair steps aside and
// where to. An agent with a free neighbour off its partner's route is
// preferred; otherwise any free neighbour other than the contested way-point
// will do. When both qualify equally the higher ID yields.
func (d *DeadlockHandler) pickYielder(a, b core.Agent, view deadlockView) (core.AgentID, core.WaypointID) {
	aOff, aAny := evasions(a, b, view)
	bOff, bAny := evasions(b, a, view)

	choose := func(aOpts, bOpts []core.WaypointID) (core.AgentID, core.WaypointID, bool) {
		switch {
		case len(aOpts) > 0 && len(bOpts) > 0:
			if a.ID > b.ID {
				return a.ID, aOpts[0], true
			}
			return b.ID, bOpts[0], true
		case len(aOpts) > 0:
			return a.ID, aOpts[0], true
		case len(bOpts) > 0:
			return b.ID, bOpts[0], true
		}
		return core.NoAgent, 0, false
	}
	if id, to, ok := choose(aOff, bOff); ok {
		return id, to
	}
	if id, to, ok := choose(aAny, bAny); ok {
		return id, to
	}
	return core.NoAgent, 0
}

// evasions returns the free neighbours of a that lie off the partner's route,
// and all free neighbours except the partner's position, both sorted by ID.
func evasions(a, partner core.Agent, view deadlockView) (off, all []core.WaypointID) {
	onRoute := make(map[core.WaypointID]bool)
	for _, v := range view.routeOf(partner) {
		onRoute[v] = true
	}
	for _, v := range view.neighbors(a.NextNode) {
		if v == partner.NextNode || !view.canEnter(a, v) {
			continue
		}
		all = append(all, v)
		if !onRoute[v] {
			off = append(off, v)
		}
	}
	sort.Slice(off, func(i, j int) bool { return off[i] < off[j] })
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return off, all
}

// pingPong reports an A-B-A-B pattern at the end of the position history.
func pingPong(positions []core.WaypointID) bool {
	n := len(positions)
	if n < 4 {
		return false
	}
	a, b := positions[n-4], positions[n-3]
	return a != b && positions[n-2] == a && positions[n-1] == b
}
