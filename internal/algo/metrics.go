package algo

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/elektrokombinacija/rmfs-mapf/internal/telemetry"
)

const meterName = "github.com/elektrokombinacija/rmfs-mapf/internal/algo"

// instruments are the planner's OpenTelemetry instruments. A nil instrument
// is skipped, so a meter that fails to create one only loses that signal.
type instruments struct {
	attrs         metric.MeasurementOption
	calls         metric.Int64Counter
	duration      metric.Float64Histogram
	waits         metric.Int64Counter
	conflicts     metric.Int64Counter
	interventions metric.Int64Counter
	expansions    metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider, method Method) *instruments {
	var m metric.Meter
	if mp != nil {
		m = mp.Meter(meterName)
	} else {
		m = telemetry.Meter(meterName)
	}
	ins := &instruments{
		attrs: metric.WithAttributes(attribute.String("mapf.method", method.String())),
	}
	ins.calls, _ = m.Int64Counter("mapf.findpaths.calls",
		metric.WithDescription("Planning calls"))
	ins.duration, _ = m.Float64Histogram("mapf.findpaths.duration",
		metric.WithDescription("Wall clock time of a planning call"), metric.WithUnit("ms"))
	ins.waits, _ = m.Int64Counter("mapf.agent.waits",
		metric.WithDescription("Agents assigned a wait instead of a move"))
	ins.conflicts, _ = m.Int64Counter("mapf.reservation.conflicts",
		metric.WithDescription("Commits refused by the reservation table"))
	ins.interventions, _ = m.Int64Counter("mapf.deadlock.interventions",
		metric.WithDescription("Deadlock handler interventions"))
	ins.expansions, _ = m.Int64Counter("mapf.search.expansions",
		metric.WithDescription("Search nodes expanded"))
	return ins
}

func (ins *instruments) call(ctx context.Context, elapsed time.Duration) {
	if ins.calls != nil {
		ins.calls.Add(ctx, 1, ins.attrs)
	}
	if ins.duration != nil {
		ins.duration.Record(ctx, float64(elapsed.Microseconds())/1000, ins.attrs)
	}
}

func add(ctx context.Context, c metric.Int64Counter, n int64, attrs metric.MeasurementOption) {
	if c != nil && n > 0 {
		c.Add(ctx, n, attrs)
	}
}

func (ins *instruments) wait(ctx context.Context)         { add(ctx, ins.waits, 1, ins.attrs) }
func (ins *instruments) conflict(ctx context.Context)     { add(ctx, ins.conflicts, 1, ins.attrs) }
func (ins *instruments) intervention(ctx context.Context) { add(ctx, ins.interventions, 1, ins.attrs) }
func (ins *instruments) expanded(ctx context.Context, n int) {
	add(ctx, ins.expansions, int64(n), ins.attrs)
}
