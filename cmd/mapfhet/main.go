// Command mapfhet runs one warehouse simulation with the configured path
// finding strategy. Settings come from MAPF_* environment variables, optionally
// loaded from a .env file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/elektrokombinacija/rmfs-mapf/internal/algo"
	"github.com/elektrokombinacija/rmfs-mapf/internal/config"
	"github.com/elektrokombinacija/rmfs-mapf/internal/layout"
	"github.com/elektrokombinacija/rmfs-mapf/internal/sim"
	"github.com/elektrokombinacija/rmfs-mapf/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	envFile := flag.String("env", ".env", "Optional .env file with MAPF_* settings")
	method := flag.String("method", "", "Override MAPF_METHOD")
	out := flag.String("out", "", "Override MAPF_METRICS_OUT")
	flag.Parse()

	// A missing .env file is fine; the environment alone may carry everything.
	_ = godotenv.Load(*envFile)
	if *method != "" {
		_ = os.Setenv("MAPF_METHOD", *method)
	}
	if *out != "" {
		_ = os.Setenv("MAPF_METRICS_OUT", *out)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return err
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	l, err := loadLayout(cfg)
	if err != nil {
		return err
	}
	logger.Info("mapfhet starting",
		"version", version, "method", cfg.Algo.Method.String(), "layout", l.Name,
		"waypoints", len(l.Graph.Waypoints), "agents", cfg.Agents)

	res, err := sim.RunScenario(ctx, sim.Scenario{
		Layout: l,
		Agents: cfg.Agents,
		Algo:   cfg.Algo,
		Sim:    sim.Config{Duration: cfg.Duration, TimeStep: timeStep(cfg.Algo)},
		Seed:   cfg.Algo.Seed,
		Logger: logger,
	})
	if res != nil && cfg.MetricsOut != "" {
		if werr := sim.WriteJSON(cfg.MetricsOut, res); werr != nil {
			logger.Error("export metrics", "error", werr)
		} else {
			logger.Info("metrics written", "path", cfg.MetricsOut)
		}
	}
	if err != nil {
		return err
	}

	m := res.Metrics
	fmt.Printf("%s on %s: %d agents, %.0fs simulated, %d trips (avg %.1fs), %d collisions, planning %.1fms total / %.2fms max\n",
		m.Method, l.Name, m.Agents, m.SimulatedTime, m.TripsCompleted, m.AvgTripTime,
		m.Collisions, m.TotalPlanningTimeMs, m.MaxPlanningTimeMs)
	return nil
}

func loadLayout(cfg config.Config) (*layout.Layout, error) {
	if cfg.LayoutFile != "" {
		return layout.Load(cfg.LayoutFile)
	}
	return layout.Generate(cfg.Layout)
}

// timeStep plans once per clocking interval, or once per wait step when the
// planner is not clocked.
func timeStep(c algo.Config) float64 {
	if c.Clocking > 0 {
		return c.Clocking
	}
	return c.LengthOfAWaitStep
}
