// Package algo implements the warehouse path finding strategies and the batch
// engine they share.
package algo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
	"github.com/elektrokombinacija/rmfs-mapf/internal/reservation"
)

// PathFinder plans routes for a batch of agents at one planning tick.
type PathFinder interface {
	// FindPaths returns the updated agents in input order. The input slice is
	// not modified. Every returned agent either holds a path that respects
	// the reservation table or waits where it is.
	FindPaths(ctx context.Context, now float64, agents []core.Agent) []core.Agent

	// Name returns the strategy name.
	Name() string
}

// Option customizes a PathFinder created by New.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	obstacles core.Obstacles
	meters    metric.MeterProvider
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObstacles sets the storage view consulted for pods and blocked
// way-points. The default has no obstacles.
func WithObstacles(obs core.Obstacles) Option {
	return func(o *options) { o.obstacles = obs }
}

// WithMeterProvider sets the meter provider. The default is the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meters = mp }
}

// New creates the strategy selected by cfg.Method over graph g, committing
// into table.
func New(cfg Config, g *core.Graph, table *reservation.Table, opts ...Option) (PathFinder, error) {
	if g == nil {
		return nil, errors.New("algo: graph is nil")
	}
	if table == nil {
		return nil, errors.New("algo: reservation table is nil")
	}
	if cfg.AutoSetParameter {
		cfg = cfg.autoTune(g)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("algo: %w", err)
	}

	o := options{logger: slog.Default(), obstacles: core.NoObstacles{}}
	for _, opt := range opts {
		opt(&o)
	}
	p, err := newPlanner(cfg, g, table, o)
	if err != nil {
		return nil, err
	}

	switch cfg.Method {
	case MethodSimple:
		return newSimple(p), nil
	case MethodWHCAv:
		return &WHCAv{planner: p}, nil
	case MethodWHCAn:
		return &WHCAn{planner: p}, nil
	case MethodFAR:
		return newFAR(p), nil
	case MethodBCP:
		return &BCP{planner: p}, nil
	case MethodODID:
		return &ODID{planner: p}, nil
	case MethodCBS:
		return &CBS{planner: p}, nil
	case MethodPAS:
		return &PAS{planner: p}, nil
	}
	return nil, fmt.Errorf("algo: method %s: %w", cfg.Method, ErrInvalidConfig)
}
