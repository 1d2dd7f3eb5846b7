package decorators

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/statements"
)

const tracerName = "graphsync/persistence"

// InstrumentedStore traces every store call and measures batches. Single
// statements are already measured by the scheduler.
type InstrumentedStore struct {
	inner         ports.GraphStore
	tracer        trace.Tracer
	metrics       ports.Metrics
	slowThreshold time.Duration
	logger        *zap.Logger
}

// NewInstrumentedStore wraps inner. A nil provider uses the global one.
func NewInstrumentedStore(inner ports.GraphStore, provider trace.TracerProvider, metrics ports.Metrics, logger *zap.Logger) *InstrumentedStore {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedStore{
		inner:         inner,
		tracer:        provider.Tracer(tracerName),
		metrics:       metrics,
		slowThreshold: 2 * time.Second,
		logger:        logger,
	}
}

// Execute runs stmt inside a span.
func (s *InstrumentedStore) Execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error) {
	ctx, span := s.tracer.Start(ctx, "GraphStore.Execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graph.op", stmt.Op.Kind.String()),
			attribute.Bool("graph.write", stmt.Op.Kind.IsWrite()),
		),
	)
	defer span.End()

	start := time.Now()
	rows, err := s.inner.Execute(ctx, stmt)
	s.finish(span, stmt.Op.Kind.String(), time.Since(start), err)
	span.SetAttributes(attribute.Int("graph.rows", len(rows)))
	return rows, err
}

// ExecuteBatch runs stmts inside a span and records the call.
func (s *InstrumentedStore) ExecuteBatch(ctx context.Context, stmts []statements.Statement) error {
	ops := make([]string, 0, len(stmts))
	for _, st := range stmts {
		ops = append(ops, st.Op.Kind.String())
	}
	ctx, span := s.tracer.Start(ctx, "GraphStore.ExecuteBatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("graph.statements", len(stmts)),
			attribute.StringSlice("graph.ops", ops),
		),
	)
	defer span.End()

	start := time.Now()
	err := s.inner.ExecuteBatch(ctx, stmts)
	elapsed := time.Since(start)
	s.metrics.StoreCall("batch", elapsed, err)
	s.finish(span, "batch", elapsed, err)
	return err
}

func (s *InstrumentedStore) finish(span trace.Span, op string, elapsed time.Duration, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if elapsed > s.slowThreshold {
		s.logger.Warn("Slow graph store call", zap.String("op", op), zap.Duration("duration", elapsed))
	}
}
