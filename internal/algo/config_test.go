package algo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
	}{
		{"simple", MethodSimple},
		{"WHCA*v", MethodWHCAv},
		{"whcan", MethodWHCAn},
		{"FAR", MethodFAR},
		{"bcp", MethodBCP},
		{"OD+ID", MethodODID},
		{"od_id", MethodODID},
		{" CBS ", MethodCBS},
		{"pas", MethodPAS},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMethod("dijkstra")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMethodNamesRoundTrip(t *testing.T) {
	for _, m := range Methods() {
		got, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	assert.Equal(t, "Method(42)", Method(42).String())
}

func TestParseSearchMethod(t *testing.T) {
	for in, want := range map[string]SearchMethod{
		"best":          BestFirst,
		"Depth-First":   DepthFirst,
		"breadth-first": BreadthFirst,
	} {
		got, err := ParseSearchMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSearchMethod("random")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDefaultConfigsAreValid(t *testing.T) {
	for _, m := range Methods() {
		assert.NoError(t, DefaultConfig(m).Validate(), m.String())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		method Method
		mutate func(*Config)
	}{
		{"zero wait step", MethodSimple, func(c *Config) { c.LengthOfAWaitStep = 0 }},
		{"NaN wait step", MethodSimple, func(c *Config) { c.LengthOfAWaitStep = math.NaN() }},
		{"negative runtime", MethodSimple, func(c *Config) { c.RuntimeLimitPerAgent = -1 }},
		{"negative overall runtime", MethodFAR, func(c *Config) { c.RunTimeLimitOverall = -1 }},
		{"negative clocking", MethodSimple, func(c *Config) { c.Clocking = -1 }},
		{"short deadlock history", MethodSimple, func(c *Config) { c.Deadlock.HistoryLength = 3 }},
		{"zero stall ticks", MethodSimple, func(c *Config) { c.Deadlock.StallTicks = 0 }},
		{"zero window", MethodWHCAv, func(c *Config) { c.WHCAv.LengthOfAWindow = 0 }},
		{"infinite window", MethodWHCAn, func(c *Config) { c.WHCAn.LengthOfAWindow = math.Inf(1) }},
		{"clocking beyond window", MethodPAS, func(c *Config) { c.Clocking = 30 }},
		{"no priority classes", MethodPAS, func(c *Config) { c.PAS.MaxPriorities = 0 }},
		{"negative manoeuvre tries", MethodFAR, func(c *Config) { c.FAR.MaximumNumberOfBreakingManeuverTries = -1 }},
		{"negative bias", MethodBCP, func(c *Config) { c.BCP.BiasedCostAmount = -1 }},
		{"no OD nodes", MethodODID, func(c *Config) { c.ODID.MaxNodeCountPerAgent = 0 }},
		{"no CBS nodes", MethodCBS, func(c *Config) { c.CBS.MaxNodes = 0 }},
		{"unknown search method", MethodCBS, func(c *Config) { c.CBS.SearchMethod = 7 }},
		{"unknown method", Method(99), func(*Config) {}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(tt.method)
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateIgnoresOtherMethodsRecords(t *testing.T) {
	cfg := DefaultConfig(MethodSimple)
	cfg.WHCAv.LengthOfAWindow = 0
	cfg.CBS.MaxNodes = 0
	cfg.UseDeadlockHandler = false
	cfg.Deadlock = DeadlockConfig{}
	assert.NoError(t, cfg.Validate())
}

func TestWindow(t *testing.T) {
	cfg := DefaultConfig(MethodWHCAn)
	cfg.WHCAn.LengthOfAWindow = 7
	assert.Equal(t, 7.0, cfg.Window())
	assert.True(t, cfg.Windowed())

	cfg.Method = MethodCBS
	assert.True(t, math.IsInf(cfg.Window(), 1))
	assert.False(t, cfg.Windowed())
}

func TestAutoTune(t *testing.T) {
	g := gridGraph(8, 8)
	cfg := DefaultConfig(MethodPAS).autoTune(g)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, cfg.WHCAv.LengthOfAWindow, cfg.PAS.LengthOfAWindow)
	assert.GreaterOrEqual(t, cfg.PAS.LengthOfAWindow, 4*cfg.LengthOfAWaitStep)
	assert.Equal(t, 640, cfg.ODID.MaxNodeCountPerAgent)
	assert.Equal(t, 64, cfg.CBS.MaxNodes)
	assert.Equal(t, 2, cfg.PAS.MaxPriorities)
	assert.Greater(t, cfg.BCP.BiasedCostAmount, 0.0)
}

func TestNewAppliesAutoTune(t *testing.T) {
	cfg := testConfig(MethodWHCAv)
	cfg.AutoSetParameter = true
	cfg.WHCAv.LengthOfAWindow = 0 // invalid on its own, replaced by tuning

	pf, _ := newFinder(t, cfg, gridGraph(4, 4))
	got := pf.(*WHCAv).Config()
	assert.Greater(t, got.WHCAv.LengthOfAWindow, 0.0)
}
