// Package config loads and validates simulation configuration from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elektrokombinacija/rmfs-mapf/internal/algo"
	"github.com/elektrokombinacija/rmfs-mapf/internal/layout"
)

// Config holds the planner, layout and run settings of one simulation.
type Config struct {
	// Planner settings.
	Algo algo.Config

	// Layout settings. LayoutFile wins over the generator parameters.
	LayoutFile string
	Layout     layout.Params

	// Run settings.
	Agents     int
	Duration   float64 // Simulated seconds
	MetricsOut string  // JSON metrics file; empty disables the export

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel  string
	LogFormat string // "json" or "text"
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed values are reported together rather than replaced by defaults.
func Load() (Config, error) {
	var l loader

	method := algo.MethodWHCAn
	if s := l.strVal("MAPF_METHOD", ""); s != "" {
		m, err := algo.ParseMethod(s)
		if err != nil {
			l.fail(fmt.Errorf("MAPF_METHOD=%q: %w", s, err))
		}
		method = m
	}

	a := algo.DefaultConfig(method)
	a.LengthOfAWaitStep = l.floatVal("MAPF_WAIT_STEP", a.LengthOfAWaitStep)
	a.RuntimeLimitPerAgent = l.durationVal("MAPF_RUNTIME_PER_AGENT", a.RuntimeLimitPerAgent)
	a.RunTimeLimitOverall = l.durationVal("MAPF_RUNTIME_OVERALL", a.RunTimeLimitOverall)
	a.Clocking = l.floatVal("MAPF_CLOCKING", a.Clocking)
	a.CanTunnel = l.boolVal("MAPF_CAN_TUNNEL", a.CanTunnel)
	a.AutoSetParameter = l.boolVal("MAPF_AUTO_TUNE", a.AutoSetParameter)
	a.UseDeadlockHandler = l.boolVal("MAPF_DEADLOCK_HANDLER", a.UseDeadlockHandler)
	a.StrictReservations = l.boolVal("MAPF_STRICT_RESERVATIONS", a.StrictReservations)
	a.PriorityRule = l.strVal("MAPF_PRIORITY_RULE", a.PriorityRule)
	a.Seed = l.int64Val("MAPF_SEED", a.Seed)
	a.Deadlock.HistoryLength = l.intVal("MAPF_DEADLOCK_HISTORY", a.Deadlock.HistoryLength)
	a.Deadlock.StallTicks = l.intVal("MAPF_DEADLOCK_STALL_TICKS", a.Deadlock.StallTicks)

	window := l.floatVal("MAPF_WINDOW", a.WHCAn.LengthOfAWindow)
	a.WHCAv.LengthOfAWindow = window
	a.WHCAn.LengthOfAWindow = window
	a.PAS.LengthOfAWindow = window

	a.FAR.MaximumNumberOfBreakingManeuverTries = l.intVal("MAPF_FAR_TRIES", a.FAR.MaximumNumberOfBreakingManeuverTries)
	a.BCP.BiasedCostAmount = l.floatVal("MAPF_BCP_BIAS", a.BCP.BiasedCostAmount)
	a.ODID.MaxNodeCountPerAgent = l.intVal("MAPF_ODID_MAX_NODES", a.ODID.MaxNodeCountPerAgent)
	a.ODID.Parallel = l.boolVal("MAPF_ODID_PARALLEL", a.ODID.Parallel)
	a.CBS.MaxNodes = l.intVal("MAPF_CBS_MAX_NODES", a.CBS.MaxNodes)
	if s := l.strVal("MAPF_CBS_SEARCH", ""); s != "" {
		sm, err := algo.ParseSearchMethod(s)
		if err != nil {
			l.fail(fmt.Errorf("MAPF_CBS_SEARCH=%q: %w", s, err))
		}
		a.CBS.SearchMethod = sm
	}
	a.PAS.MaxPriorities = l.intVal("MAPF_PAS_PRIORITIES", a.PAS.MaxPriorities)

	a.Simple.SimpleWaitingExtendedEnabled = l.boolVal("MAPF_SIMPLE_WAIT_EXTENDED", a.Simple.SimpleWaitingExtendedEnabled)
	a.Simple.SimpleWaitingD2Enabled = l.boolVal("MAPF_SIMPLE_WAIT_D2", a.Simple.SimpleWaitingD2Enabled)
	a.Simple.PingPongWaitingEnabled = l.boolVal("MAPF_SIMPLE_PING_PONG_WAIT", a.Simple.PingPongWaitingEnabled)
	a.WHCAv.AbortAtFirstConflict = l.boolVal("MAPF_WHCAV_ABORT_AT_FIRST_CONFLICT", a.WHCAv.AbortAtFirstConflict)
	a.WHCAn.UseBias = l.boolVal("MAPF_WHCAN_USE_BIAS", a.WHCAn.UseBias)
	a.FAR.EvadeByRerouting = l.boolVal("MAPF_FAR_EVADE_BY_REROUTING", a.FAR.EvadeByRerouting)
	a.FAR.EvadeToNextNode = l.boolVal("MAPF_FAR_EVADE_TO_NEXT_NODE", a.FAR.EvadeToNextNode)
	a.FAR.NoBackEvading = l.boolVal("MAPF_FAR_NO_BACK_EVADING", a.FAR.NoBackEvading)
	a.ODID.UseFinalReservations = l.boolVal("MAPF_ODID_FINAL_RESERVATIONS", a.ODID.UseFinalReservations)

	p := layout.DefaultParams()
	p.Seed = l.int64Val("MAPF_LAYOUT_SEED", p.Seed)
	p.Tiers = l.intVal("MAPF_LAYOUT_TIERS", p.Tiers)
	p.BlocksX = l.intVal("MAPF_LAYOUT_BLOCKS_X", p.BlocksX)
	p.BlocksY = l.intVal("MAPF_LAYOUT_BLOCKS_Y", p.BlocksY)
	p.Stations = l.intVal("MAPF_LAYOUT_STATIONS", p.Stations)
	p.Elevators = l.intVal("MAPF_LAYOUT_ELEVATORS", p.Elevators)
	p.PodFill = l.floatVal("MAPF_LAYOUT_POD_FILL", p.PodFill)

	cfg := Config{
		Algo:         a,
		LayoutFile:   l.strVal("MAPF_LAYOUT_FILE", ""),
		Layout:       p,
		Agents:       l.intVal("MAPF_AGENTS", 8),
		Duration:     l.floatVal("MAPF_DURATION", 300),
		MetricsOut:   l.strVal("MAPF_METRICS_OUT", ""),
		OTELEndpoint: l.strVal("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: l.boolVal("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  l.strVal("OTEL_SERVICE_NAME", "rmfs-mapf"),
		LogLevel:     l.strVal("MAPF_LOG_LEVEL", "info"),
		LogFormat:    l.strVal("MAPF_LOG_FORMAT", "json"),
	}

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that Load cannot check key by key.
func (c Config) Validate() error {
	if err := c.Algo.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.LayoutFile == "" {
		if err := c.Layout.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.Agents < 1 {
		return fmt.Errorf("config: MAPF_AGENTS must be positive")
	}
	if !(c.Duration > 0) {
		return fmt.Errorf("config: MAPF_DURATION must be positive")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("config: MAPF_LOG_LEVEL=%q is not a valid level", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: MAPF_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// SlogLevel returns the parsed log level, or Info if it does not parse.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// loader reads typed values and keeps every parse error.
type loader struct {
	errs []error
}

func (l *loader) fail(err error) { l.errs = append(l.errs, err) }

func (l *loader) strVal(key, def string) string { return envStr(key, def) }

func (l *loader) intVal(key string, def int) int {
	v, err := envInt(key, def)
	if err != nil {
		l.fail(err)
	}
	return v
}

func (l *loader) int64Val(key string, def int64) int64 {
	v, err := envInt64(key, def)
	if err != nil {
		l.fail(err)
	}
	return v
}

func (l *loader) floatVal(key string, def float64) float64 {
	v, err := envFloat(key, def)
	if err != nil {
		l.fail(err)
	}
	return v
}

func (l *loader) boolVal(key string, def bool) bool {
	v, err := envBool(key, def)
	if err != nil {
		l.fail(err)
	}
	return v
}

func (l *loader) durationVal(key string, def time.Duration) time.Duration {
	v, err := envDuration(key, def)
	if err != nil {
		l.fail(err)
	}
	return v
}

func envStr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := envStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envInt64(key string, defaultVal int64) (int64, error) {
	v := envStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := envStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := envStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := envStr(key, "")
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
