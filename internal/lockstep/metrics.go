package lockstep

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/roach88/lockstep/internal/lockstep"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// metrics holds the session's instruments. The global provider is a no-op
// unless the process installs one.
type metrics struct {
	ticks    metric.Int64Counter
	commands metric.Int64Counter
	skipped  metric.Int64Counter
	dropped  metric.Int64Counter
	desyncs  metric.Int64Counter
	stalls   metric.Int64Counter
	rtt      metric.Float64Histogram

	current metric.Int64ObservableGauge
	reg     metric.Registration
}

func newMetrics(m metric.Meter, s *Session) (*metrics, error) {
	var (
		out metrics
		err error
	)

	if out.ticks, err = m.Int64Counter("lockstep.ticks.executed",
		metric.WithDescription("Ticks executed")); err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}
	if out.commands, err = m.Int64Counter("lockstep.commands.executed",
		metric.WithDescription("Commands passed to the executor")); err != nil {
		return nil, fmt.Errorf("creating commands counter: %w", err)
	}
	if out.skipped, err = m.Int64Counter("lockstep.commands.skipped",
		metric.WithDescription("Commands skipped for unresolvable entities")); err != nil {
		return nil, fmt.Errorf("creating skipped counter: %w", err)
	}
	if out.dropped, err = m.Int64Counter("lockstep.messages.dropped",
		metric.WithDescription("Datagrams or commands dropped as malformed or unauthenticated")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if out.desyncs, err = m.Int64Counter("lockstep.desyncs",
		metric.WithDescription("Checksum mismatches detected")); err != nil {
		return nil, fmt.Errorf("creating desync counter: %w", err)
	}
	if out.stalls, err = m.Int64Counter("lockstep.stalls",
		metric.WithDescription("Waits on peers that exceeded the stall threshold")); err != nil {
		return nil, fmt.Errorf("creating stall counter: %w", err)
	}
	if out.rtt, err = m.Float64Histogram("lockstep.peer.rtt",
		metric.WithDescription("Round-trip time to peers"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("creating rtt histogram: %w", err)
	}
	if out.current, err = m.Int64ObservableGauge("lockstep.tick.current",
		metric.WithDescription("Current simulation tick")); err != nil {
		return nil, fmt.Errorf("creating tick gauge: %w", err)
	}

	out.reg, err = m.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(out.current, s.published.Load(),
				metric.WithAttributes(attribute.Int("player", s.cfg.LocalPlayer)))
			return nil
		},
		out.current,
	)
	if err != nil {
		return nil, fmt.Errorf("registering tick callback: %w", err)
	}
	return &out, nil
}

func (m *metrics) unregister() {
	if m.reg != nil {
		_ = m.reg.Unregister()
		m.reg = nil
	}
}
