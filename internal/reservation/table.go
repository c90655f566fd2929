// Package reservation implements the space-time ledger that serializes claims
// on shared warehouse space.
package reservation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// ErrConflict is returned when a commit would overlap another agent's interval.
var ErrConflict = errors.New("reservation conflict")

// Table records, per location, the disjoint time intervals claimed by agents.
// Intervals of different agents on one location never overlap. Readers may
// run concurrently; writers are serialized.
type Table struct {
	mu      sync.RWMutex
	byLoc   map[core.Location][]core.Interval // sorted by Start
	byAgent map[core.AgentID]map[core.Location]struct{}
	log     *slog.Logger
}

// New creates an empty table.
func New(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		byLoc:   make(map[core.Location][]core.Interval),
		byAgent: make(map[core.AgentID]map[core.Location]struct{}),
		log:     logger,
	}
}

// IsFree reports whether no other agent holds loc during [t0, t1).
func (t *Table) IsFree(loc core.Location, t0, t1 float64, agent core.AgentID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, blocked := t.blocker(loc, t0, t1, agent)
	return !blocked
}

// Blocker returns the first interval of another agent overlapping [t0, t1).
func (t *Table) Blocker(loc core.Location, t0, t1 float64, agent core.AgentID) (core.Interval, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blocker(loc, t0, t1, agent)
}

// BlockerExcept returns the first interval overlapping [t0, t1) whose owner
// is not accepted by skip. Planners searching several agents jointly use it to
// look through the current claims of the agents they are planning.
func (t *Table) BlockerExcept(loc core.Location, t0, t1 float64, skip func(core.AgentID) bool) (core.Interval, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.blockerFunc(loc, t0, t1, skip)
}

func (t *Table) blocker(loc core.Location, t0, t1 float64, agent core.AgentID) (core.Interval, bool) {
	return t.blockerFunc(loc, t0, t1, func(a core.AgentID) bool { return a == agent })
}

func (t *Table) blockerFunc(loc core.Location, t0, t1 float64, skip func(core.AgentID) bool) (core.Interval, bool) {
	for _, iv := range t.byLoc[loc] {
		if iv.Start >= t1-core.TimeTolerance {
			break
		}
		if !skip(iv.Agent) && iv.Overlaps(t0, t1) {
			return iv, true
		}
	}
	return core.Interval{}, false
}

// Reserve commits [t0, t1) on loc for agent. It returns false, leaving the
// table unchanged, if another agent holds an overlapping interval.
func (t *Table) Reserve(loc core.Location, t0, t1 float64, agent core.AgentID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, blocked := t.blocker(loc, t0, t1, agent); blocked {
		return false
	}
	t.insert(core.Interval{Loc: loc, Start: t0, End: t1, Agent: agent})
	return true
}

// ReserveAll commits every interval for agent in one step. If any of them is
// not free nothing is committed and the returned error wraps ErrConflict.
func (t *Table) ReserveAll(agent core.AgentID, ivs []core.Interval) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, iv := range ivs {
		if iv.End-iv.Start < core.TimeTolerance {
			continue
		}
		if other, blocked := t.blocker(iv.Loc, iv.Start, iv.End, agent); blocked {
			return fmt.Errorf("agent %d claiming %s: held by %s: %w", agent, iv, other, ErrConflict)
		}
	}
	for _, iv := range ivs {
		if iv.End-iv.Start < core.TimeTolerance {
			continue
		}
		iv.Agent = agent
		t.insert(iv)
	}
	return nil
}

// Replace swaps every interval agent holds for ivs in one step. On conflict
// the agent keeps its previous intervals and the error wraps ErrConflict.
func (t *Table) Replace(agent core.AgentID, ivs []core.Interval) error {
	return t.ReplaceGroup(map[core.AgentID][]core.Interval{agent: ivs})
}

// ReplaceGroup swaps the intervals of several agents at once. The new
// intervals must be free of every agent outside the group and of each other.
// Either all agents are replaced or the table is left unchanged.
func (t *Table) ReplaceGroup(plans map[core.AgentID][]core.Interval) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	agents := make([]core.AgentID, 0, len(plans))
	for a := range plans {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i] < agents[j] })

	var saved []core.Interval
	for _, a := range agents {
		saved = append(saved, t.agentIntervals(a)...)
		for loc := range t.byAgent[a] {
			t.release(loc, a, func(core.Interval) bool { return true })
		}
	}

	var err error
	for _, a := range agents {
		for _, iv := range plans[a] {
			if iv.End-iv.Start < core.TimeTolerance {
				continue
			}
			if other, blocked := t.blocker(iv.Loc, iv.Start, iv.End, a); blocked {
				err = fmt.Errorf("agent %d claiming %s: held by %s: %w", a, iv, other, ErrConflict)
				break
			}
			iv.Agent = a
			t.insert(iv)
		}
		if err != nil {
			break
		}
	}
	if err == nil {
		return nil
	}

	for _, a := range agents {
		for loc := range t.byAgent[a] {
			t.release(loc, a, func(core.Interval) bool { return true })
		}
	}
	for _, iv := range saved {
		t.insert(iv)
	}
	return err
}

// insert adds iv, merging it with touching or overlapping intervals of the
// same agent. Caller holds the write lock.
func (t *Table) insert(iv core.Interval) {
	list := t.byLoc[iv.Loc]
	merged := list[:0:0]
	for _, cur := range list {
		if cur.Agent == iv.Agent && cur.Start <= iv.End+core.TimeTolerance && iv.Start <= cur.End+core.TimeTolerance {
			iv.Start = min(iv.Start, cur.Start)
			iv.End = max(iv.End, cur.End)
			continue
		}
		merged = append(merged, cur)
	}
	i := sort.Search(len(merged), func(i int) bool { return merged[i].Start > iv.Start })
	merged = append(merged, core.Interval{})
	copy(merged[i+1:], merged[i:])
	merged[i] = iv
	t.byLoc[iv.Loc] = merged

	locs := t.byAgent[iv.Agent]
	if locs == nil {
		locs = make(map[core.Location]struct{})
		t.byAgent[iv.Agent] = locs
	}
	locs[iv.Loc] = struct{}{}
}

// Release removes every interval agent holds on loc.
func (t *Table) Release(loc core.Location, agent core.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.release(loc, agent, func(core.Interval) bool { return true })
}

// ReleaseAll removes every interval agent holds anywhere.
func (t *Table) ReleaseAll(agent core.AgentID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for loc := range t.byAgent[agent] {
		t.release(loc, agent, func(core.Interval) bool { return true })
	}
}

// ReleaseBefore removes the agent's intervals that end no later than ts and
// trims the ones that started before it.
func (t *Table) ReleaseBefore(agent core.AgentID, ts float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for loc := range t.byAgent[agent] {
		list := t.byLoc[loc]
		for i := range list {
			if list[i].Agent == agent && list[i].Start < ts && list[i].End > ts+core.TimeTolerance {
				list[i].Start = ts
			}
		}
		t.release(loc, agent, func(iv core.Interval) bool { return iv.End <= ts+core.TimeTolerance })
	}
}

// release drops the agent's intervals on loc matching drop. Caller holds the
// write lock.
func (t *Table) release(loc core.Location, agent core.AgentID, drop func(core.Interval) bool) {
	list := t.byLoc[loc]
	kept := list[:0]
	remaining := false
	for _, iv := range list {
		if iv.Agent == agent && drop(iv) {
			continue
		}
		if iv.Agent == agent {
			remaining = true
		}
		kept = append(kept, iv)
	}
	if len(kept) == 0 {
		delete(t.byLoc, loc)
	} else {
		t.byLoc[loc] = kept
	}
	if !remaining {
		delete(t.byAgent[agent], loc)
		if len(t.byAgent[agent]) == 0 {
			delete(t.byAgent, agent)
		}
	}
}

// Clear removes all intervals.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byLoc = make(map[core.Location][]core.Interval)
	t.byAgent = make(map[core.AgentID]map[core.Location]struct{})
}

// Intervals returns a copy of the intervals on loc, ordered by start time.
func (t *Table) Intervals(loc core.Location) []core.Interval {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Interval, len(t.byLoc[loc]))
	copy(out, t.byLoc[loc])
	return out
}

// AgentIntervals returns a copy of every interval held by agent.
func (t *Table) AgentIntervals(agent core.AgentID) []core.Interval {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.agentIntervals(agent)
}

func (t *Table) agentIntervals(agent core.AgentID) []core.Interval {
	var out []core.Interval
	for loc := range t.byAgent[agent] {
		for _, iv := range t.byLoc[loc] {
			if iv.Agent == agent {
				out = append(out, iv)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		if out[i].Loc.From != out[j].Loc.From {
			return out[i].Loc.From < out[j].Loc.From
		}
		return out[i].Loc.To < out[j].Loc.To
	})
	return out
}

// All returns a copy of every interval in the table.
func (t *Table) All() []core.Interval {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []core.Interval
	for _, list := range t.byLoc {
		out = append(out, list...)
	}
	return out
}

// Len returns the number of stored intervals.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, list := range t.byLoc {
		n += len(list)
	}
	return n
}

// Verify checks the mutual exclusion invariant over the whole table.
func (t *Table) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for loc, list := range t.byLoc {
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				a, b := list[i], list[j]
				if b.Start >= a.End-core.TimeTolerance {
					break
				}
				if a.Agent != b.Agent && a.Overlaps(b.Start, b.End) {
					t.log.Error("reservation invariant violated", "location", loc.String(), "a", a.String(), "b", b.String())
					return fmt.Errorf("%s overlaps %s: %w", a, b, ErrConflict)
				}
			}
		}
	}
	return nil
}
