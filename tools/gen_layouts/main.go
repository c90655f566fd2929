// Package main generates warehouse layouts for simulation runs and benchmarks.
// Layouts are deterministic for a given set of parameters.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/elektrokombinacija/rmfs-mapf/internal/layout"
)

// scalingSizes are the storage block counts per axis of the scaling suite.
var scalingSizes = []int{2, 4, 6, 8, 12}

func main() {
	def := layout.DefaultParams()
	seed := flag.Int64("seed", def.Seed, "Random seed for pod placement")
	tiers := flag.Int("tiers", def.Tiers, "Number of tiers")
	blocksX := flag.Int("blocks-x", def.BlocksX, "Storage blocks along x")
	blocksY := flag.Int("blocks-y", def.BlocksY, "Storage blocks along y")
	blockWidth := flag.Int("block-width", def.BlockWidth, "Storage way-points per block along x")
	blockDepth := flag.Int("block-depth", def.BlockDepth, "Storage way-points per block along y")
	stations := flag.Int("stations", def.Stations, "Stations on tier 0")
	queue := flag.Int("queue", def.QueueLength, "Queue way-points per station")
	elevators := flag.Int("elevators", def.Elevators, "Elevators per tier (multi-tier only)")
	podFill := flag.Float64("pod-fill", def.PodFill, "Fraction of storage holding a pod (0-1)")
	outputDir := flag.String("output", "testdata", "Output directory")
	scalingMode := flag.Bool("scaling", false, "Generate the scaling suite (2x2 up to 12x12 blocks, 1 and 2 tiers)")

	flag.Parse()

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
		os.Exit(1)
	}

	base := def
	base.Seed = *seed
	base.Tiers = *tiers
	base.BlocksX = *blocksX
	base.BlocksY = *blocksY
	base.BlockWidth = *blockWidth
	base.BlockDepth = *blockDepth
	base.Stations = *stations
	base.QueueLength = *queue
	base.Elevators = *elevators
	base.PodFill = *podFill

	var params []layout.Params
	if *scalingMode {
		for _, n := range scalingSizes {
			for t := 1; t <= 2; t++ {
				p := base
				p.BlocksX, p.BlocksY, p.Tiers = n, n, t
				// One station and one elevator per two aisles.
				p.Stations = max(1, (n+1)/2)
				p.Elevators = max(1, (n+1)/2)
				params = append(params, p)
			}
		}
	} else {
		params = append(params, base)
	}

	failed := 0
	for _, p := range params {
		l, err := layout.Generate(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating layout: %v\n", err)
			failed++
			continue
		}
		filename := filepath.Join(*outputDir, l.Name+".json")
		if err := layout.Save(filename, l); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", filename, err)
			failed++
			continue
		}
		fmt.Printf("Generated: %s (%d way-points, %d pods)\n", filename, len(l.Graph.Waypoints), len(l.Pods.Pods))
	}
	if failed > 0 {
		os.Exit(1)
	}
}
