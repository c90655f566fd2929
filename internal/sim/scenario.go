package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"go.opentelemetry.io/otel/metric"

	"github.com/elektrokombinacija/rmfs-mapf/internal/algo"
	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
	"github.com/elektrokombinacija/rmfs-mapf/internal/layout"
	"github.com/elektrokombinacija/rmfs-mapf/internal/reservation"
)

// Scenario is everything one simulation run needs.
type Scenario struct {
	Layout *layout.Layout
	Agents int
	Algo   algo.Config
	Sim    Config
	Seed   int64 // Agent placement and destination draws

	Logger *slog.Logger         // Optional; slog.Default() when nil
	Meters metric.MeterProvider // Optional; the global provider when nil
}

// PlaceAgents puts n agents on distinct aisle way-points drawn with seed.
// Agent IDs are 0..n-1.
func PlaceAgents(l *layout.Layout, n int, seed int64) ([]core.Agent, error) {
	roads := l.Roads()
	if n > len(roads) {
		return nil, fmt.Errorf("sim: %d agents do not fit on %d aisle way-points", n, len(roads))
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(roads), func(i, j int) { roads[i], roads[j] = roads[j], roads[i] })

	agents := make([]core.Agent, n)
	for i := range agents {
		a := core.NewAgent(core.AgentID(i), roads[i])
		a.CanGoThroughObstacles = true
		agents[i] = a
	}
	return agents, nil
}

// RunScenario builds the reservation table, path finder, fleet and allocator
// of sc and runs the simulation.
func RunScenario(ctx context.Context, sc Scenario) (*Result, error) {
	if sc.Layout == nil {
		return nil, errors.New("sim: scenario has no layout")
	}
	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	agents, err := PlaceAgents(sc.Layout, sc.Agents, sc.Seed)
	if err != nil {
		return nil, err
	}

	table := reservation.New(logger)
	opts := []algo.Option{algo.WithLogger(logger), algo.WithObstacles(sc.Layout.Pods)}
	if sc.Meters != nil {
		opts = append(opts, algo.WithMeterProvider(sc.Meters))
	}
	pf, err := algo.New(sc.Algo, sc.Layout.Graph, table, opts...)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	alloc := NewRandomAllocator(Targets(sc.Layout), sc.Seed)
	s, err := New(sc.Layout.Instance(agents), pf, table, alloc, sc.Sim, WithLogger(logger))
	if err != nil {
		return nil, err
	}

	m, err := s.Run(ctx)
	res := &Result{
		RunID:   s.RunID(),
		Layout:  sc.Layout.Name,
		Metrics: *m,
		Success: err == nil,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res, err
}
