package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Init builds an SDK TracerProvider, installs it as the global provider,
// and returns it along with a shutdown func; wrap it with NewTracer to get
// a cortex.Tracer.
//
// Unlike nevindra-oasis's observer.Init (which wires an OTLP HTTP
// exporter directly), the exporter here is injected by the caller via
// opts — cmd/cortex decides where spans go (stdout, a collector, or
// nowhere during tests) rather than this package hardcoding one
// transport. Passing no WithSpanProcessor option yields a fully
// functional TracerProvider that creates and ends real spans without
// exporting them anywhere, which is sufficient for in-process Span
// methods (SetAttr/Event/Error) to behave correctly in tests.
func Init(ctx context.Context, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx))
	}
	return tp, shutdown, nil
}
