// Package main provides the benchmark runner for the path finding methods.
// Runs every method on every layout and collects simulation metrics.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elektrokombinacija/rmfs-mapf/internal/algo"
	"github.com/elektrokombinacija/rmfs-mapf/internal/layout"
	"github.com/elektrokombinacija/rmfs-mapf/internal/sim"
)

// BenchmarkResult stores results from a single simulation run.
type BenchmarkResult struct {
	Timestamp             string  `json:"timestamp"`
	CommitHash            string  `json:"commit_hash"`
	GoVersion             string  `json:"go_version"`
	OS                    string  `json:"os"`
	Arch                  string  `json:"arch"`
	RunID                 string  `json:"run_id"`
	Layout                string  `json:"layout"`
	Waypoints             int     `json:"waypoints"`
	Tiers                 int     `json:"tiers"`
	NumAgents             int     `json:"num_agents"`
	Method                string  `json:"method"`
	RuntimeMs             float64 `json:"runtime_ms"`
	Success               bool    `json:"success"`
	Error                 string  `json:"error,omitempty"`
	TripsCompleted        int     `json:"trips_completed"`
	AvgTripTime           float64 `json:"avg_trip_time"`
	PlanningMs            float64 `json:"planning_ms"`
	MaxPlanningMs         float64 `json:"max_planning_ms"`
	Moves                 int     `json:"moves"`
	Distance              float64 `json:"distance"`
	Collisions            int     `json:"collisions"`
	ReservationViolations int     `json:"reservation_violations"`
}

// MethodMetrics holds per-method aggregated metrics.
type MethodMetrics struct {
	Name           string
	TotalRuns      int
	Successes      int
	TotalRuntimeMs float64
	TotalTrips     int
	TotalTripTime  float64
	Collisions     int
}

type env struct {
	commit string
	stamp  string
}

func getGitCommit() string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(output))
}

func parseMethods(s string) ([]algo.Method, error) {
	if s == "" {
		return algo.Methods(), nil
	}
	var out []algo.Method
	for _, name := range strings.Split(s, ",") {
		m, err := algo.ParseMethod(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// runOne simulates one method on one layout.
func runOne(ctx context.Context, e env, l *layout.Layout, m algo.Method, agents int, duration float64, timeout time.Duration, logger *slog.Logger) *BenchmarkResult {
	result := &BenchmarkResult{
		Timestamp:  e.stamp,
		CommitHash: e.commit,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Layout:     l.Name,
		Waypoints:  len(l.Graph.Waypoints),
		Tiers:      len(l.Graph.Tiers()),
		NumAgents:  agents,
		Method:     m.String(),
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cfg := algo.DefaultConfig(m)
	step := cfg.LengthOfAWaitStep
	if cfg.Clocking > 0 {
		step = cfg.Clocking
	}
	startTime := time.Now()
	res, err := sim.RunScenario(ctx, sim.Scenario{
		Layout: l,
		Agents: agents,
		Algo:   cfg,
		Sim:    sim.Config{Duration: duration, TimeStep: step},
		Seed:   cfg.Seed,
		Logger: logger,
	})
	result.RuntimeMs = float64(time.Since(startTime).Microseconds()) / 1000.0

	if res == nil {
		result.Error = err.Error()
		return result
	}
	mt := res.Metrics
	result.RunID = res.RunID.String()
	result.Success = res.Success && mt.Collisions == 0
	result.Error = res.Error
	result.TripsCompleted = mt.TripsCompleted
	result.AvgTripTime = mt.AvgTripTime
	result.PlanningMs = mt.TotalPlanningTimeMs
	result.MaxPlanningMs = mt.MaxPlanningTimeMs
	result.Moves = mt.Moves
	result.Distance = mt.DistanceTravelled
	result.Collisions = mt.Collisions
	result.ReservationViolations = mt.ReservationViolations
	return result
}

func writeCSV(results []*BenchmarkResult, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{
		"timestamp", "commit_hash", "go_version", "os", "arch", "run_id",
		"layout", "waypoints", "tiers", "num_agents", "method",
		"runtime_ms", "success", "trips_completed", "avg_trip_time",
		"planning_ms", "max_planning_ms", "moves", "distance",
		"collisions", "reservation_violations", "error",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		row := []string{
			r.Timestamp, r.CommitHash, r.GoVersion, r.OS, r.Arch, r.RunID,
			r.Layout, strconv.Itoa(r.Waypoints), strconv.Itoa(r.Tiers), strconv.Itoa(r.NumAgents), r.Method,
			fmt.Sprintf("%.3f", r.RuntimeMs), strconv.FormatBool(r.Success),
			strconv.Itoa(r.TripsCompleted), fmt.Sprintf("%.3f", r.AvgTripTime),
			fmt.Sprintf("%.3f", r.PlanningMs), fmt.Sprintf("%.3f", r.MaxPlanningMs),
			strconv.Itoa(r.Moves), fmt.Sprintf("%.3f", r.Distance),
			strconv.Itoa(r.Collisions), strconv.Itoa(r.ReservationViolations), r.Error,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func printSummary(results []*BenchmarkResult) {
	metrics := make(map[string]*MethodMetrics)
	for _, r := range results {
		m, ok := metrics[r.Method]
		if !ok {
			m = &MethodMetrics{Name: r.Method}
			metrics[r.Method] = m
		}
		m.TotalRuns++
		m.Collisions += r.Collisions
		if r.Success {
			m.Successes++
			m.TotalRuntimeMs += r.RuntimeMs
			m.TotalTrips += r.TripsCompleted
			m.TotalTripTime += r.AvgTripTime * float64(r.TripsCompleted)
		}
	}

	fmt.Println("\n=== BENCHMARK SUMMARY ===")
	fmt.Printf("%-10s %6s %8s %12s %8s %12s %10s\n",
		"Method", "Runs", "Success", "Avg Time(ms)", "Trips", "AvgTrip(s)", "Collisions")
	fmt.Println(strings.Repeat("-", 72))

	var names []string
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := metrics[name]
		avgTime, avgTrip := 0.0, 0.0
		if m.Successes > 0 {
			avgTime = m.TotalRuntimeMs / float64(m.Successes)
		}
		if m.TotalTrips > 0 {
			avgTrip = m.TotalTripTime / float64(m.TotalTrips)
		}
		fmt.Printf("%-10s %6d %8d %12.2f %8d %12.2f %10d\n",
			m.Name, m.TotalRuns, m.Successes, avgTime, m.TotalTrips, avgTrip, m.Collisions)
	}
}

func main() {
	inputDir := flag.String("input", "testdata", "Directory containing layout JSON files")
	outputFile := flag.String("output", "evidence/benchmark_results.csv", "Output CSV file; results are also written next to it as JSON")
	timeout := flag.Duration("timeout", 5*time.Minute, "Timeout per run")
	methodFilter := flag.String("method", "", "Run only specific methods (comma-separated)")
	agents := flag.Int("agents", 8, "Agents per run")
	duration := flag.Float64("duration", 300, "Simulated seconds per run")
	parallel := flag.Int("parallel", runtime.NumCPU(), "Concurrent runs")
	verbose := flag.Bool("verbose", false, "Verbose output")

	flag.Parse()

	outputDir := filepath.Dir(*outputFile)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	files, err := filepath.Glob(filepath.Join(*inputDir, "*.json"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error finding layout files: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No layout files found in %s\n", *inputDir)
		fmt.Fprintf(os.Stderr, "Run gen_layouts first: go run ./tools/gen_layouts -scaling -output %s\n", *inputDir)
		os.Exit(1)
	}

	methods, err := parseMethods(*methodFilter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing -method: %v\n", err)
		os.Exit(1)
	}

	var layouts []*layout.Layout
	for _, file := range files {
		l, err := layout.Load(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", file, err)
			continue
		}
		layouts = append(layouts, l)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	totalRuns := len(layouts) * len(methods)
	fmt.Printf("Running benchmarks: %d layouts x %d methods = %d runs\n", len(layouts), len(methods), totalRuns)
	fmt.Printf("Timeout per run: %v, parallel: %d\n\n", *timeout, *parallel)

	e := env{commit: getGitCommit(), stamp: time.Now().UTC().Format(time.RFC3339)}
	results := make([]*BenchmarkResult, totalRuns)
	var (
		mu   sync.Mutex
		done int
	)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(1, *parallel))
	for i, l := range layouts {
		for j, m := range methods {
			idx := i*len(methods) + j
			g.Go(func() error {
				r := runOne(ctx, e, l, m, *agents, *duration, *timeout, logger)
				results[idx] = r

				mu.Lock()
				defer mu.Unlock()
				done++
				if *verbose {
					status := "OK"
					if !r.Success {
						status = "FAILED " + r.Error
					}
					fmt.Printf("[%d/%d] %s / %s: %s (%.2fms, %d trips)\n", done, totalRuns, r.Layout, r.Method, status, r.RuntimeMs, r.TripsCompleted)
				} else {
					fmt.Printf("\r[%d/%d] Running...", done, totalRuns)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	fmt.Println()

	if err := writeCSV(results, *outputFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
		os.Exit(1)
	}
	jsonFile := strings.TrimSuffix(*outputFile, filepath.Ext(*outputFile)) + ".json"
	if err := sim.WriteJSON(jsonFile, results); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Results written to: %s, %s\n", *outputFile, jsonFile)

	printSummary(results)
}
