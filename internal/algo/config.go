package algo

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

// ErrInvalidConfig is wrapped by every configuration validation error.
var ErrInvalidConfig = errors.New("invalid path finder configuration")

// Method selects the path finding strategy.
type Method int

const (
	MethodSimple Method = iota
	MethodWHCAv
	MethodWHCAn
	MethodFAR
	MethodBCP
	MethodODID
	MethodCBS
	MethodPAS
)

var methodNames = map[Method]string{
	MethodSimple: "Simple",
	MethodWHCAv:  "WHCAv",
	MethodWHCAn:  "WHCAn",
	MethodFAR:    "FAR",
	MethodBCP:    "BCP",
	MethodODID:   "ODID",
	MethodCBS:    "CBS",
	MethodPAS:    "PAS",
}

// Methods lists every strategy in declaration order.
func Methods() []Method {
	return []Method{MethodSimple, MethodWHCAv, MethodWHCAn, MethodFAR, MethodBCP, MethodODID, MethodCBS, MethodPAS}
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ParseMethod resolves a method name case-insensitively. "WHCA*v", "OD+ID"
// and similar spellings are accepted.
func ParseMethod(s string) (Method, error) {
	norm := strings.ToLower(strings.NewReplacer("*", "", "+", "", "-", "", "_", "").Replace(strings.TrimSpace(s)))
	for m, name := range methodNames {
		if strings.ToLower(name) == norm {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown method %q: %w", s, ErrInvalidConfig)
}

// SearchMethod is the constraint tree expansion order of CBS.
type SearchMethod int

const (
	BestFirst SearchMethod = iota
	DepthFirst
	BreadthFirst
)

func (s SearchMethod) String() string {
	switch s {
	case BestFirst:
		return "best-first"
	case DepthFirst:
		return "depth-first"
	case BreadthFirst:
		return "breadth-first"
	}
	return fmt.Sprintf("SearchMethod(%d)", int(s))
}

// ParseSearchMethod accepts "best", "depth", "breadth" with or without the
// "-first" suffix.
func ParseSearchMethod(s string) (SearchMethod, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "-first") {
	case "best", "bestfirst":
		return BestFirst, nil
	case "depth", "depthfirst":
		return DepthFirst, nil
	case "breadth", "breadthfirst":
		return BreadthFirst, nil
	}
	return 0, fmt.Errorf("unknown search method %q: %w", s, ErrInvalidConfig)
}

// SimpleConfig configures the Simple strategy.
type SimpleConfig struct {
	SimpleWaitingExtendedEnabled bool
	SimpleWaitingD2Enabled       bool
	PingPongWaitingEnabled       bool
}

// WHCAvConfig configures WHCA* with route validation.
type WHCAvConfig struct {
	LengthOfAWindow      float64
	AbortAtFirstConflict bool
}

// WHCAnConfig configures WHCA* with a full windowed search.
type WHCAnConfig struct {
	LengthOfAWindow float64
	UseBias         bool
}

// FARConfig configures Fast-And-Reliable evasion.
type FARConfig struct {
	EvadeByRerouting                    bool
	EvadeToNextNode                     bool
	NoBackEvading                       bool
	MaximumNumberOfBreakingManeuverTries int
}

// BCPConfig configures biased-cost path finding.
type BCPConfig struct {
	BiasedCostAmount float64
}

// ODIDConfig configures operator decomposition with independence detection.
type ODIDConfig struct {
	MaxNodeCountPerAgent int
	UseFinalReservations bool
	Parallel             bool
}

// CBSConfig configures conflict-based search.
type CBSConfig struct {
	SearchMethod SearchMethod
	MaxNodes     int
}

// PASConfig configures priority-class search.
type PASConfig struct {
	MaxPriorities   int
	LengthOfAWindow float64
}

// DeadlockConfig configures the deadlock handler.
type DeadlockConfig struct {
	HistoryLength int // Positions remembered per agent
	StallTicks    int // Unchanged observations before a stall is reported
}

// Config selects a strategy and carries the shared knobs plus one record per
// strategy. Only the record matching Method is consulted.
type Config struct {
	Method Method

	LengthOfAWaitStep    float64       // Simulated seconds of one wait action
	RuntimeLimitPerAgent time.Duration // Wall clock per agent; 0 means unlimited
	RunTimeLimitOverall  time.Duration // Wall clock per FindPaths call; 0 means unlimited
	Clocking             float64       // Minimum simulated time between planning calls
	CanTunnel            bool
	AutoSetParameter     bool
	UseDeadlockHandler   bool
	StrictReservations   bool   // Panic on a refused commit
	PriorityRule         string // Optional expression ranking agents; higher plans first
	Seed                 int64

	Deadlock DeadlockConfig
	Simple   SimpleConfig
	WHCAv    WHCAvConfig
	WHCAn    WHCAnConfig
	FAR      FARConfig
	BCP      BCPConfig
	ODID     ODIDConfig
	CBS      CBSConfig
	PAS      PASConfig
}

// DefaultConfig returns a configuration for method with the defaults used by
// the simulator.
func DefaultConfig(method Method) Config {
	return Config{
		Method:               method,
		LengthOfAWaitStep:    1,
		RuntimeLimitPerAgent: 100 * time.Millisecond,
		RunTimeLimitOverall:  time.Second,
		Clocking:             1,
		CanTunnel:            true,
		UseDeadlockHandler:   true,
		Seed:                 1,
		Deadlock:             DeadlockConfig{HistoryLength: 8, StallTicks: 4},
		Simple:               SimpleConfig{PingPongWaitingEnabled: true},
		WHCAv:                WHCAvConfig{LengthOfAWindow: 20},
		WHCAn:                WHCAnConfig{LengthOfAWindow: 20, UseBias: true},
		FAR: FARConfig{
			EvadeByRerouting:                    true,
			EvadeToNextNode:                     true,
			NoBackEvading:                       true,
			MaximumNumberOfBreakingManeuverTries: 2,
		},
		BCP:  BCPConfig{BiasedCostAmount: 2},
		ODID: ODIDConfig{MaxNodeCountPerAgent: 500, UseFinalReservations: true},
		CBS:  CBSConfig{SearchMethod: BestFirst, MaxNodes: 200},
		PAS:  PASConfig{MaxPriorities: 3, LengthOfAWindow: 20},
	}
}

// Window returns the planning window of windowed methods and +Inf for the
// others.
func (c Config) Window() float64 {
	switch c.Method {
	case MethodWHCAv:
		return c.WHCAv.LengthOfAWindow
	case MethodWHCAn:
		return c.WHCAn.LengthOfAWindow
	case MethodPAS:
		return c.PAS.LengthOfAWindow
	}
	return math.Inf(1)
}

// Windowed reports whether the method bounds its reservations by a window.
func (c Config) Windowed() bool {
	return !math.IsInf(c.Window(), 1)
}

// Validate checks the shared knobs and the record of the selected method.
func (c Config) Validate() error {
	if _, ok := methodNames[c.Method]; !ok {
		return invalid("method %d is not defined", int(c.Method))
	}
	if !(c.LengthOfAWaitStep > 0) {
		return invalid("LengthOfAWaitStep must be > 0, got %v", c.LengthOfAWaitStep)
	}
	if c.RuntimeLimitPerAgent < 0 {
		return invalid("RuntimeLimitPerAgent must be >= 0, got %s", c.RuntimeLimitPerAgent)
	}
	if c.RunTimeLimitOverall < 0 {
		return invalid("RunTimeLimitOverall must be >= 0, got %s", c.RunTimeLimitOverall)
	}
	if c.Clocking < 0 || math.IsNaN(c.Clocking) {
		return invalid("Clocking must be >= 0, got %v", c.Clocking)
	}
	if c.UseDeadlockHandler {
		if c.Deadlock.HistoryLength < 4 {
			return invalid("Deadlock.HistoryLength must be >= 4, got %d", c.Deadlock.HistoryLength)
		}
		if c.Deadlock.StallTicks < 1 {
			return invalid("Deadlock.StallTicks must be >= 1, got %d", c.Deadlock.StallTicks)
		}
	}

	switch c.Method {
	case MethodWHCAv, MethodWHCAn, MethodPAS:
		w := c.Window()
		if !(w > 0) || math.IsInf(w, 1) {
			return invalid("%s LengthOfAWindow must be > 0, got %v", c.Method, w)
		}
		if c.Clocking > w {
			return invalid("Clocking %v exceeds the %s window %v", c.Clocking, c.Method, w)
		}
		if c.Method == MethodPAS && c.PAS.MaxPriorities < 1 {
			return invalid("PAS MaxPriorities must be >= 1, got %d", c.PAS.MaxPriorities)
		}
	case MethodFAR:
		if c.FAR.MaximumNumberOfBreakingManeuverTries < 0 {
			return invalid("FAR MaximumNumberOfBreakingManeuverTries must be >= 0, got %d", c.FAR.MaximumNumberOfBreakingManeuverTries)
		}
	case MethodBCP:
		if c.BCP.BiasedCostAmount < 0 {
			return invalid("BCP BiasedCostAmount must be >= 0, got %v", c.BCP.BiasedCostAmount)
		}
	case MethodODID:
		if c.ODID.MaxNodeCountPerAgent < 1 {
			return invalid("ODID MaxNodeCountPerAgent must be >= 1, got %d", c.ODID.MaxNodeCountPerAgent)
		}
	case MethodCBS:
		if c.CBS.MaxNodes < 1 {
			return invalid("CBS MaxNodes must be >= 1, got %d", c.CBS.MaxNodes)
		}
		if c.CBS.SearchMethod < BestFirst || c.CBS.SearchMethod > BreadthFirst {
			return invalid("CBS search method %d is not defined", int(c.CBS.SearchMethod))
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidConfig)
}

// autoTune derives windows, node limits and bias amounts from the graph. It is
// applied by New when AutoSetParameter is set.
func (c Config) autoTune(g *core.Graph) Config {
	n := len(g.Waypoints)
	if n == 0 {
		return c
	}
	edge := core.DefaultPhysics().MinTravelTime(g.MeanEdgeDistance())
	if edge <= 0 {
		edge = c.LengthOfAWaitStep
	}
	diameter := edge * 2 * math.Sqrt(float64(n))

	window := math.Max(diameter/2, 4*c.LengthOfAWaitStep)
	window = math.Max(window, c.Clocking)
	c.WHCAv.LengthOfAWindow = window
	c.WHCAn.LengthOfAWindow = window
	c.PAS.LengthOfAWindow = window

	c.BCP.BiasedCostAmount = 2 * edge
	c.ODID.MaxNodeCountPerAgent = max(100, 10*n)
	c.CBS.MaxNodes = max(50, n)
	c.PAS.MaxPriorities = max(1, min(5, int(math.Sqrt(float64(n))/4)))
	c.FAR.MaximumNumberOfBreakingManeuverTries = max(1, c.FAR.MaximumNumberOfBreakingManeuverTries)
	return c
}
