package observability

import (
	"context"
	"errors"
	"time"

	"lettertool/internal/models"
	"lettertool/internal/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	saved    metric.Int64Counter
}

// NewInstrumentedStorage creates a storage wrapper that records a span, a
// latency sample and, on failure, an error count for every call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("lettertool/storage")
	meter := otel.Meter("lettertool/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	saved, err := meter.Int64Counter(
		"letters.saved",
		metric.WithDescription("Number of letters persisted, by country site"),
		metric.WithUnit("{letter}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
		saved:    saved,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	// A missing letter is an answer, not a failure
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) SaveLetter(ctx context.Context, letter *models.Letter) error {
	ctx, span := s.startSpan(ctx, "SaveLetter",
		attribute.String("letter.id", letter.ID),
		attribute.String("letter.country", letter.Country),
	)
	start := time.Now()
	err := s.inner.SaveLetter(ctx, letter)
	s.record(ctx, span, "SaveLetter", start, err)
	if err == nil {
		s.saved.Add(ctx, 1, metric.WithAttributes(attribute.String("country", letter.Country)))
	}
	return err
}

func (s *InstrumentedStorage) GetLetter(ctx context.Context, id string) (*models.Letter, error) {
	ctx, span := s.startSpan(ctx, "GetLetter", attribute.String("letter.id", id))
	start := time.Now()
	result, err := s.inner.GetLetter(ctx, id)
	s.record(ctx, span, "GetLetter", start, err)
	return result, err
}

func (s *InstrumentedStorage) CountLettersByCountry(ctx context.Context) (map[string]int64, error) {
	ctx, span := s.startSpan(ctx, "CountLettersByCountry")
	start := time.Now()
	result, err := s.inner.CountLettersByCountry(ctx)
	s.record(ctx, span, "CountLettersByCountry", start, err)
	return result, err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
