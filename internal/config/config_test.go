package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elektrokombinacija/rmfs-mapf/internal/algo"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, algo.MethodWHCAn, cfg.Algo.Method)
	assert.Equal(t, algo.DefaultConfig(algo.MethodWHCAn), cfg.Algo)
	assert.Equal(t, 8, cfg.Agents)
	assert.Equal(t, 300.0, cfg.Duration)
	assert.Empty(t, cfg.LayoutFile)
	assert.Empty(t, cfg.OTELEndpoint)
	assert.Equal(t, "rmfs-mapf", cfg.ServiceName)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAPF_METHOD", "cbs")
	t.Setenv("MAPF_WAIT_STEP", "0.5")
	t.Setenv("MAPF_RUNTIME_PER_AGENT", "20ms")
	t.Setenv("MAPF_RUNTIME_OVERALL", "2s")
	t.Setenv("MAPF_CAN_TUNNEL", "false")
	t.Setenv("MAPF_SEED", "99")
	t.Setenv("MAPF_PRIORITY_RULE", "Priority - Distance")
	t.Setenv("MAPF_CBS_SEARCH", "depth-first")
	t.Setenv("MAPF_CBS_MAX_NODES", "17")
	t.Setenv("MAPF_WINDOW", "12")
	t.Setenv("MAPF_LAYOUT_TIERS", "2")
	t.Setenv("MAPF_AGENTS", "3")
	t.Setenv("MAPF_DURATION", "60")
	t.Setenv("MAPF_LOG_LEVEL", "debug")
	t.Setenv("MAPF_LOG_FORMAT", "text")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")

	// Every strategy switch flipped away from its default.
	t.Setenv("MAPF_SIMPLE_WAIT_EXTENDED", "true")
	t.Setenv("MAPF_SIMPLE_WAIT_D2", "true")
	t.Setenv("MAPF_SIMPLE_PING_PONG_WAIT", "false")
	t.Setenv("MAPF_WHCAV_ABORT_AT_FIRST_CONFLICT", "true")
	t.Setenv("MAPF_WHCAN_USE_BIAS", "false")
	t.Setenv("MAPF_FAR_EVADE_BY_REROUTING", "false")
	t.Setenv("MAPF_FAR_EVADE_TO_NEXT_NODE", "false")
	t.Setenv("MAPF_FAR_NO_BACK_EVADING", "false")
	t.Setenv("MAPF_ODID_FINAL_RESERVATIONS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	a := cfg.Algo
	assert.Equal(t, algo.MethodCBS, a.Method)
	assert.Equal(t, 0.5, a.LengthOfAWaitStep)
	assert.Equal(t, 20*time.Millisecond, a.RuntimeLimitPerAgent)
	assert.Equal(t, 2*time.Second, a.RunTimeLimitOverall)
	assert.False(t, a.CanTunnel)
	assert.Equal(t, int64(99), a.Seed)
	assert.Equal(t, "Priority - Distance", a.PriorityRule)
	assert.Equal(t, algo.DepthFirst, a.CBS.SearchMethod)
	assert.Equal(t, 17, a.CBS.MaxNodes)
	assert.Equal(t, 12.0, a.WHCAv.LengthOfAWindow)
	assert.Equal(t, 12.0, a.PAS.LengthOfAWindow)

	assert.True(t, a.Simple.SimpleWaitingExtendedEnabled)
	assert.True(t, a.Simple.SimpleWaitingD2Enabled)
	assert.False(t, a.Simple.PingPongWaitingEnabled)
	assert.True(t, a.WHCAv.AbortAtFirstConflict)
	assert.False(t, a.WHCAn.UseBias)
	assert.False(t, a.FAR.EvadeByRerouting)
	assert.False(t, a.FAR.EvadeToNextNode)
	assert.False(t, a.FAR.NoBackEvading)
	assert.False(t, a.ODID.UseFinalReservations)

	assert.Equal(t, 2, cfg.Layout.Tiers)
	assert.Equal(t, 3, cfg.Agents)
	assert.Equal(t, 60.0, cfg.Duration)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "localhost:4318", cfg.OTELEndpoint)
}

func TestLoadReportsEveryMalformedKey(t *testing.T) {
	t.Setenv("MAPF_AGENTS", "many")
	t.Setenv("MAPF_CLOCKING", "soon")
	t.Setenv("MAPF_RUNTIME_OVERALL", "five-seconds")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `MAPF_AGENTS="many" is not a valid integer`)
	assert.Contains(t, err.Error(), `MAPF_CLOCKING="soon" is not a valid number`)
	assert.Contains(t, err.Error(), `MAPF_RUNTIME_OVERALL="five-seconds" is not a valid duration`)
}

func TestLoadRejectsUnknownMethod(t *testing.T) {
	t.Setenv("MAPF_METHOD", "dijkstra")
	_, err := Load()
	assert.ErrorIs(t, err, algo.ErrInvalidConfig)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"MAPF_WAIT_STEP", "0"},
		{"MAPF_WINDOW", "-1"},
		{"MAPF_CBS_SEARCH", "sideways"},
		{"MAPF_LAYOUT_TIERS", "0"},
		{"MAPF_AGENTS", "0"},
		{"MAPF_DURATION", "0"},
		{"MAPF_LOG_LEVEL", "chatty"},
		{"MAPF_LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLayoutFileSkipsGeneratorChecks(t *testing.T) {
	t.Setenv("MAPF_LAYOUT_FILE", "warehouse.json")
	t.Setenv("MAPF_LAYOUT_TIERS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warehouse.json", cfg.LayoutFile)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	n, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, n)

	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err = envBool("TEST_BOOL_BAD", false)
	require.Error(t, err)
	assert.Equal(t, `TEST_BOOL_BAD="maybe" is not a valid boolean`, err.Error())

	t.Setenv("TEST_DUR", " 5s ")
	d, err := envDuration("TEST_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	t.Setenv("TEST_I64_BAD", "1.5")
	_, err = envInt64("TEST_I64_BAD", 0)
	assert.EqualError(t, err, `TEST_I64_BAD="1.5" is not a valid integer`)
}
