package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cortexlabs/cortex"
)

func TestTracerStartAndEndProducesNoPanic(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	tracer := NewTracer(tp)
	ctx, span := tracer.Start(context.Background(), "router.dispatch", cortex.StringAttr("tier", "haiku"))
	if ctx == nil || span == nil {
		t.Fatal("expected a non-nil context and span")
	}
	span.SetAttr(cortex.IntAttr("weight", 7))
	span.Event("evaluated", cortex.BoolAttr("fallback", false))
	span.Error(errors.New("executor timeout"))
	span.End()
}

func TestInitInstallsGlobalProvider(t *testing.T) {
	tp, shutdown, err := Init(context.Background())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())
	if tp == nil {
		t.Fatal("expected a non-nil TracerProvider")
	}
}

func TestNewMetricsRegistersAllInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.BusPending.Set(3)
	m.BusProcessing.Set(1)
	m.RouterInFlight.WithLabelValues("haiku").Inc()
	m.RouterLatency.WithLabelValues("haiku", "completed").Observe(1.2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"cortex_bus_pending", "cortex_bus_processing", "router_jobs_in_flight", "router_job_latency_seconds"} {
		if !names[want] {
			t.Errorf("expected metric %s to be registered, got %v", want, names)
		}
	}
}
