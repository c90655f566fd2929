// Package sim drives a path finder through simulated time. Every tick it hands
// out destinations, plans, moves the agents along their paths and releases
// the reservations they leave behind.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/elektrokombinacija/rmfs-mapf/internal/algo"
	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
	"github.com/elektrokombinacija/rmfs-mapf/internal/reservation"
	"github.com/elektrokombinacija/rmfs-mapf/internal/telemetry"
)

const scope = "github.com/elektrokombinacija/rmfs-mapf/internal/sim"

// Config configures the simulation clock.
type Config struct {
	// Simulation duration in seconds
	Duration float64

	// Simulated seconds between planning calls
	TimeStep float64
}

// DefaultConfig returns a one hour run planned every second.
func DefaultConfig() Config {
	return Config{
		Duration: 3600,
		TimeStep: 1,
	}
}

// Validate checks the clock settings.
func (c Config) Validate() error {
	if !(c.Duration > 0) {
		return fmt.Errorf("sim: duration must be > 0, got %v", c.Duration)
	}
	if !(c.TimeStep > 0) {
		return fmt.Errorf("sim: time step must be > 0, got %v", c.TimeStep)
	}
	return nil
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.log = l }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Simulator) { s.tracer = tp.Tracer(scope) }
}

// WithRunID overrides the generated run ID.
func WithRunID(id uuid.UUID) Option {
	return func(s *Simulator) { s.runID = id }
}

// Simulator runs one path finder over one instance.
type Simulator struct {
	mu sync.Mutex

	cfg    Config
	graph  *core.Graph
	finder algo.PathFinder
	table  *reservation.Table
	alloc  Allocator
	log    *slog.Logger
	tracer trace.Tracer
	runID  uuid.UUID

	// State
	now    float64
	agents []core.Agent
	trips  map[core.AgentID]float64 // Start of the trip in progress

	metrics Metrics
}

// New creates a simulator. The path finder must commit into table, which the
// simulator drains as agents move on.
func New(inst *core.Instance, finder algo.PathFinder, table *reservation.Table, alloc Allocator, cfg Config, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if inst == nil || finder == nil || table == nil || alloc == nil {
		return nil, errors.New("sim: instance, path finder, reservation table and allocator are required")
	}
	if err := inst.Validate(); err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	s := &Simulator{
		cfg:    cfg,
		graph:  inst.Graph,
		finder: finder,
		table:  table,
		alloc:  alloc,
		log:    slog.Default(),
		tracer: telemetry.Tracer(scope),
		runID:  uuid.New(),
		agents: append([]core.Agent(nil), inst.Agents...),
		trips:  make(map[core.AgentID]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = Metrics{
		RunID:  s.runID.String(),
		Method: finder.Name(),
		Agents: len(s.agents),
	}
	return s, nil
}

// RunID identifies this run in logs, traces and exported metrics.
func (s *Simulator) RunID() uuid.UUID { return s.runID }

// Run executes the simulation until the configured duration or until ctx is
// done. The metrics gathered so far are returned in both cases.
func (s *Simulator) Run(ctx context.Context) (*Metrics, error) {
	ctx, span := s.tracer.Start(ctx, "sim.run", trace.WithAttributes(
		attribute.String("sim.run_id", s.runID.String()),
		attribute.String("mapf.method", s.finder.Name()),
		attribute.Int("sim.agents", len(s.agents)),
	))
	defer span.End()

	s.mu.Lock()
	s.metrics.StartTime = time.Now()
	s.mu.Unlock()
	s.log.Info("simulation started",
		"run_id", s.runID, "method", s.finder.Name(), "agents", len(s.agents), "duration", s.cfg.Duration)

	var err error
	for s.now < s.cfg.Duration-core.TimeTolerance {
		if err = ctx.Err(); err != nil {
			break
		}
		s.step(ctx)
	}

	s.mu.Lock()
	s.metrics.EndTime = time.Now()
	s.metrics.SimulatedTime = s.now
	m := s.snapshot()
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "interrupted")
		return &m, fmt.Errorf("sim: run %s interrupted at t=%.1f: %w", s.runID, m.SimulatedTime, err)
	}
	s.log.Info("simulation finished",
		"run_id", s.runID, "trips", m.TripsCompleted, "collisions", m.Collisions,
		"planning_ms", m.TotalPlanningTimeMs)
	return &m, nil
}

// step advances the simulation by one time step
func (s *Simulator) step(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "sim.tick", trace.WithAttributes(attribute.Float64("sim.time", s.now)))
	defer span.End()

	s.assign()

	started := time.Now()
	s.agents = s.finder.FindPaths(ctx, s.now, s.agents)
	s.recordPlanning(time.Since(started))

	if err := s.table.Verify(); err != nil {
		s.metrics.ReservationViolations++
		span.RecordError(err)
		s.log.Error("reservation table inconsistent", "run_id", s.runID, "t", s.now, "error", err)
	}

	next := s.now + s.cfg.TimeStep
	for i, a := range s.agents {
		moved := a.AdvanceTo(next)
		s.travel(a, moved, next)
		s.table.ReleaseBefore(a.ID, next)
		s.agents[i] = moved
	}
	s.now = next
	s.metrics.Ticks++

	if n := s.audit(); n > 0 {
		s.metrics.Collisions += n
		span.SetStatus(codes.Error, "collision")
	}
}

// assign closes finished trips and asks the allocator for the next
// destination of every agent standing on its destination.
func (s *Simulator) assign() {
	taken := make(map[core.WaypointID]bool, 2*len(s.agents))
	for _, a := range s.agents {
		taken[a.NextNode] = true
		taken[a.DestinationNode] = true
	}
	isTaken := func(v core.WaypointID) bool { return taken[v] }

	for i, a := range s.agents {
		if a.FixedPosition || a.Moving(s.now) || !a.AtDestination() {
			continue
		}
		if start, ok := s.trips[a.ID]; ok {
			s.metrics.TripsCompleted++
			s.metrics.TotalTripTime += s.now - start
			delete(s.trips, a.ID)
			s.log.Debug("trip completed", "run_id", s.runID, "agent", a.ID, "at", a.NextNode, "took", s.now-start)
		}

		dest, ok := s.alloc.Next(a, s.now, isTaken)
		if !ok {
			continue
		}
		a.DestinationNode, a.FinalDestinationNode = dest, dest
		a.RequestReoptimization = true
		taken[dest] = true
		s.trips[a.ID] = s.now
		s.agents[i] = a
	}
}

func (s *Simulator) recordPlanning(elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000
	s.metrics.PlanningCalls++
	s.metrics.TotalPlanningTimeMs += ms
	if ms > s.metrics.MaxPlanningTimeMs {
		s.metrics.MaxPlanningTimeMs = ms
	}
}

// travel accounts for the move an agent started while advancing to t, and for
// the tick it spent waiting away from its destination.
func (s *Simulator) travel(before, after core.Agent, t float64) {
	if after.NextNode != before.NextNode {
		s.metrics.Moves++
		if e, ok := s.graph.Edge(before.NextNode, after.NextNode); ok {
			s.metrics.DistanceTravelled += e.Distance
		} else {
			s.metrics.DistanceTravelled += s.graph.EstimateDistance(before.NextNode, after.NextNode)
		}
		return
	}
	if !after.FixedPosition && !after.Moving(t) && !after.AtDestination() {
		s.metrics.WaitTicks++
	}
}

// audit counts pairs of agents that occupy the same way-point or edge at the
// current time. A moving agent occupies both ends of its edge.
func (s *Simulator) audit() int {
	n := 0
	nodes := make(map[core.WaypointID]core.AgentID, 2*len(s.agents))
	edges := make(map[core.Location]core.AgentID)
	claim := func(a core.Agent, v core.WaypointID) {
		if other, ok := nodes[v]; ok && other != a.ID {
			n++
			s.log.Error("collision", "run_id", s.runID, "t", s.now, "waypoint", v, "agents", []core.AgentID{other, a.ID})
			return
		}
		nodes[v] = a.ID
	}

	for _, a := range s.agents {
		claim(a, a.NextNode)
		if !a.Moving(s.now) {
			continue
		}
		claim(a, a.CurrentNode)
		loc := core.EdgeLocation(a.CurrentNode, a.NextNode)
		if other, ok := edges[loc]; ok {
			n++
			s.log.Error("collision", "run_id", s.runID, "t", s.now, "edge", loc.String(), "agents", []core.AgentID{other, a.ID})
			continue
		}
		edges[loc] = a.ID
	}
	return n
}

// Agents returns a copy of the current agent states.
func (s *Simulator) Agents() []core.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Agent(nil), s.agents...)
}

// Now returns the simulated time.
func (s *Simulator) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}
