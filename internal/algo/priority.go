package algo

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// PriorityEnv is the environment a PriorityRule expression is evaluated in.
// Agents with a higher score plan first.
//
// Example rules:
//
//	Priority * 100 - Distance
//	AtDestination ? -1 : Stalled
type PriorityEnv struct {
	ID            int
	Priority      int
	Distance      float64 // Static travel time to the destination
	Moving        bool
	AtDestination bool
	Stalled       int // Consecutive stalled observations, 0 without a deadlock handler
}

type priorityRule struct {
	src     string
	program *vm.Program
}

func compilePriorityRule(src string) (*priorityRule, error) {
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(PriorityEnv{}), expr.AsFloat64())
	if err != nil {
		return nil, fmt.Errorf("priority rule %q: %v: %w", src, err, ErrInvalidConfig)
	}
	return &priorityRule{src: src, program: program}, nil
}

func (r *priorityRule) score(env PriorityEnv) (float64, error) {
	out, err := expr.Run(r.program, env)
	if err != nil {
		return 0, fmt.Errorf("priority rule %q: %w", r.src, err)
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("priority rule %q returned %T", r.src, out)
	}
	return f, nil
}

// orderAgents sorts the batch indices in planning order: agents holding right
// of way first, then by rule score (or Priority hint) descending, then by ID.
func (p *planner) orderAgents(b *batch) []int {
	n := len(b.agents)
	scores := make([]float64, n)
	first := make([]bool, n)
	for i, a := range b.agents {
		scores[i] = float64(a.Priority)
		if p.deadlock != nil {
			first[i] = p.deadlock.HasRightOfWay(a.ID, b.now)
		}
		if p.rule == nil {
			continue
		}
		env := PriorityEnv{
			ID:            int(a.ID),
			Priority:      a.Priority,
			Distance:      p.routes.estimate(a.NextNode, a.DestinationNode, a.Physics),
			Moving:        a.Moving(b.now),
			AtDestination: a.AtDestination(),
		}
		if p.deadlock != nil {
			env.Stalled = p.deadlock.Stalled(a.ID)
		}
		s, err := p.rule.score(env)
		if err != nil {
			p.log.Warn("priority rule failed, using priority hint", "agent", a.ID, "error", err)
			continue
		}
		scores[i] = s
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		i, j := order[x], order[y]
		if first[i] != first[j] {
			return first[i]
		}
		if scores[i] != scores[j] {
			return scores[i] > scores[j]
		}
		return b.agents[i].ID < b.agents[j].ID
	})
	return order
}
