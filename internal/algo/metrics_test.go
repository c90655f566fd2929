package algo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func counterValue(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "%T is not an int64 sum", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func newReader(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader, mp
}

func TestPlannerRecordsCallsAndWaits(t *testing.T) {
	reader, mp := newReader(t)

	// Agent 2 sits on agent 1's only route, so agent 1 has to wait.
	pf, _ := newFinder(t, testConfig(MethodSimple), lineGraph(3), WithMeterProvider(mp))
	parked := newAgent(2, 1, 1)
	pf.FindPaths(context.Background(), 0, []core.Agent{newAgent(1, 0, 2), parked})
	pf.FindPaths(context.Background(), 1, []core.Agent{newAgent(1, 0, 2), parked})

	data := collect(t, reader)
	require.Contains(t, data, "mapf.findpaths.calls")
	assert.Equal(t, int64(2), counterValue(t, data["mapf.findpaths.calls"]))
	assert.Equal(t, int64(2), counterValue(t, data["mapf.agent.waits"]))

	hist, ok := data["mapf.findpaths.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	method, ok := hist.DataPoints[0].Attributes.Value(attribute.Key("mapf.method"))
	require.True(t, ok)
	assert.Equal(t, "Simple", method.AsString())
}

func TestPlannerRecordsExpansions(t *testing.T) {
	reader, mp := newReader(t)
	pf, _ := newFinder(t, testConfig(MethodWHCAn), lineGraph(4), WithMeterProvider(mp))
	pf.FindPaths(context.Background(), 0, []core.Agent{newAgent(1, 0, 3)})

	data := collect(t, reader)
	assert.Positive(t, counterValue(t, data["mapf.search.expansions"]))
}

func TestPlannerFallsBackToTheGlobalMeterProvider(t *testing.T) {
	reader, mp := newReader(t)
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	pf, _ := newFinder(t, testConfig(MethodSimple), lineGraph(3))
	pf.FindPaths(context.Background(), 0, []core.Agent{newAgent(1, 0, 2)})

	data := collect(t, reader)
	require.Contains(t, data, "mapf.findpaths.calls")
	assert.Equal(t, int64(1), counterValue(t, data["mapf.findpaths.calls"]))
}
