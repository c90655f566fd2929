// Package layout generates warehouse way-point graphs and reads and writes them
// as JSON.
//
// A generated tier is a grid of storage blocks separated by one-wide aisles.
// Stations with their queues hang off the west side of tier 0 and elevators
// off the east side of every tier. IDs are assigned in generation order, so a
// layout is fully determined by its Params.
package layout

import (
	"fmt"
	"math/rand"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// Params defines a generated warehouse.
type Params struct {
	Name        string  `json:"name,omitempty"`
	Seed        int64   `json:"seed"`
	Tiers       int     `json:"tiers"`
	BlocksX     int     `json:"blocks_x"`     // Storage blocks along x
	BlocksY     int     `json:"blocks_y"`     // Storage blocks along y
	BlockWidth  int     `json:"block_width"`  // Storage way-points per block along x
	BlockDepth  int     `json:"block_depth"`  // Storage way-points per block along y
	Stations    int     `json:"stations"`     // Placed on tier 0
	QueueLength int     `json:"queue_length"` // Queue way-points in front of each station
	Elevators   int     `json:"elevators"`    // Per tier; ignored for a single tier
	Spacing     float64 `json:"spacing"`      // Metres between neighbouring way-points
	TierHeight  float64 `json:"tier_height"`  // Elevator ride distance between tiers
	PodFill     float64 `json:"pod_fill"`     // Fraction of storage way-points holding a pod
}

// DefaultParams returns a small single-tier warehouse.
func DefaultParams() Params {
	return Params{
		Seed:        42,
		Tiers:       1,
		BlocksX:     3,
		BlocksY:     2,
		BlockWidth:  2,
		BlockDepth:  4,
		Stations:    2,
		QueueLength: 2,
		Elevators:   1,
		Spacing:     1,
		TierHeight:  5,
		PodFill:     0.6,
	}
}

// Validate checks that the parameters describe a buildable warehouse.
func (p Params) Validate() error {
	switch {
	case p.Tiers < 1:
		return fmt.Errorf("layout: tiers must be >= 1, got %d", p.Tiers)
	case p.BlocksX < 1 || p.BlocksY < 1:
		return fmt.Errorf("layout: need at least one block per axis, got %dx%d", p.BlocksX, p.BlocksY)
	case p.BlockWidth < 1 || p.BlockDepth < 1:
		return fmt.Errorf("layout: block size must be >= 1, got %dx%d", p.BlockWidth, p.BlockDepth)
	case p.Stations < 0 || p.Stations > p.BlocksY+1:
		return fmt.Errorf("layout: stations must be in [0, %d], got %d", p.BlocksY+1, p.Stations)
	case p.QueueLength < 0:
		return fmt.Errorf("layout: queue length must be >= 0, got %d", p.QueueLength)
	case p.Tiers > 1 && (p.Elevators < 1 || p.Elevators > p.BlocksY+1):
		return fmt.Errorf("layout: elevators must be in [1, %d] for %d tiers, got %d", p.BlocksY+1, p.Tiers, p.Elevators)
	case !(p.Spacing > 0):
		return fmt.Errorf("layout: spacing must be > 0, got %v", p.Spacing)
	case p.Tiers > 1 && !(p.TierHeight > 0):
		return fmt.Errorf("layout: tier height must be > 0, got %v", p.TierHeight)
	case p.PodFill < 0 || p.PodFill > 1:
		return fmt.Errorf("layout: pod fill must be in [0, 1], got %v", p.PodFill)
	}
	return nil
}

func (p Params) gridSize() (cols, rows int) {
	return p.BlocksX*(p.BlockWidth+1) + 1, p.BlocksY*(p.BlockDepth+1) + 1
}

// aisleRows returns the y indices of the horizontal aisles.
func (p Params) aisleRows() []int {
	rows := make([]int, 0, p.BlocksY+1)
	for b := 0; b <= p.BlocksY; b++ {
		rows = append(rows, b*(p.BlockDepth+1))
	}
	return rows
}

func (p Params) name() string {
	if p.Name != "" {
		return p.Name
	}
	cols, rows := p.gridSize()
	return fmt.Sprintf("rmfs_%dx%d_t%d_s%d_%d", cols, rows, p.Tiers, p.Stations, p.Seed)
}

// Layout is a warehouse graph with its storage state and the way-points of
// each kind in ascending ID order.
type Layout struct {
	Name      string
	Params    *Params // Nil for layouts not produced by Generate
	Graph     *core.Graph
	Pods      *core.PodMap
	Storage   []core.WaypointID
	Stations  []core.WaypointID
	Queues    []core.WaypointID
	Elevators []core.WaypointID
}

// Roads returns the aisle way-points: everything that is neither storage, a
// station, a queue position nor an elevator.
func (l *Layout) Roads() []core.WaypointID {
	var out []core.WaypointID
	for _, id := range l.Graph.IDs() {
		w := l.Graph.Waypoints[id]
		if !w.PodStorage && !w.Station && !w.QueuePosition && !w.Elevator && !l.Pods.IsBlocked(id) {
			out = append(out, id)
		}
	}
	return out
}

// Instance wraps the layout and agents into a planning instance.
func (l *Layout) Instance(agents []core.Agent) *core.Instance {
	return &core.Instance{Graph: l.Graph, Agents: agents, Obstacles: l.Pods}
}

// Generate builds the warehouse described by p.
func Generate(p Params) (*Layout, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(p.Seed))
	l := &Layout{Name: p.name(), Params: &p, Graph: core.NewGraph(), Pods: core.NewPodMap()}

	var next core.WaypointID
	add := func(w core.Waypoint) core.WaypointID {
		w.ID = next
		next++
		l.Graph.AddWaypoint(&w)
		return w.ID
	}

	cols, rows := p.gridSize()
	grid := make([][]core.WaypointID, p.Tiers)
	for tier := 0; tier < p.Tiers; tier++ {
		grid[tier] = make([]core.WaypointID, cols*rows)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				storage := x%(p.BlockWidth+1) != 0 && y%(p.BlockDepth+1) != 0
				id := add(core.Waypoint{
					Pos:        core.Pos{X: float64(x) * p.Spacing, Y: float64(y) * p.Spacing},
					Tier:       tier,
					PodStorage: storage,
				})
				grid[tier][y*cols+x] = id
				if storage {
					l.Storage = append(l.Storage, id)
				}
			}
		}
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				if x+1 < cols {
					l.Graph.Connect(grid[tier][y*cols+x], grid[tier][y*cols+x+1])
				}
				if y+1 < rows {
					l.Graph.Connect(grid[tier][y*cols+x], grid[tier][(y+1)*cols+x])
				}
			}
		}
	}

	aisles := p.aisleRows()
	for _, y := range spread(aisles, p.Stations) {
		prev := grid[0][y*cols]
		for q := 1; q <= p.QueueLength; q++ {
			id := add(core.Waypoint{Pos: core.Pos{X: -float64(q) * p.Spacing, Y: float64(y) * p.Spacing}, QueuePosition: true})
			l.Graph.Connect(prev, id)
			l.Queues = append(l.Queues, id)
			prev = id
		}
		id := add(core.Waypoint{Pos: core.Pos{X: -float64(p.QueueLength+1) * p.Spacing, Y: float64(y) * p.Spacing}, Station: true})
		l.Graph.Connect(prev, id)
		l.Stations = append(l.Stations, id)
	}

	if p.Tiers > 1 {
		for _, y := range spread(aisles, p.Elevators) {
			below := core.WaypointID(-1)
			for tier := 0; tier < p.Tiers; tier++ {
				id := add(core.Waypoint{Pos: core.Pos{X: float64(cols) * p.Spacing, Y: float64(y) * p.Spacing}, Tier: tier, Elevator: true})
				l.Graph.Connect(grid[tier][y*cols+cols-1], id)
				if below >= 0 {
					l.Graph.AddEdge(below, id, p.TierHeight)
					l.Graph.AddEdge(id, below, p.TierHeight)
				}
				l.Elevators = append(l.Elevators, id)
				below = id
			}
		}
	}

	for _, id := range l.Storage {
		if rng.Float64() < p.PodFill {
			l.Pods.Pods[id] = true
		}
	}
	return l, nil
}

// spread picks k values evenly spaced over vals, including both ends when
// k > 1.
func spread(vals []int, k int) []int {
	if k <= 0 || len(vals) == 0 {
		return nil
	}
	if k == 1 {
		return []int{vals[len(vals)/2]}
	}
	out := make([]int, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, vals[i*(len(vals)-1)/(k-1)])
	}
	return out
}
