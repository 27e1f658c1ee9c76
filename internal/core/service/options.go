package service

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/pos-engine/internal/port"
)

const tracerName = "github.com/rl1809/pos-engine/internal/core/service"

type options struct {
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
	location    *time.Location
	idempotency port.IdempotencyCache
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the zone used to derive the order-number date.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

func WithIdempotency(cache port.IdempotencyCache) Option {
	return func(o *options) { o.idempotency = cache }
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
