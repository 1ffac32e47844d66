package order

import (
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xenking/nopego-checkout/internal/domain/order"

// Option configures a Service or Settler.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type instruments struct {
	tracer      trace.Tracer
	placed      metric.Int64Counter
	settlements metric.Int64Counter
	rejected    metric.Int64Counter
}

func newInstruments(o options) (*instruments, error) {
	meter := o.meterProvider.Meter(instrumentationName)

	placed, err := meter.Int64Counter("checkout.orders.placed",
		metric.WithDescription("Orders persisted, by payment method"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	settlements, err := meter.Int64Counter("checkout.settlements",
		metric.WithDescription("Settlement attempts, by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "settlements counter")
	}
	rejected, err := meter.Int64Counter("checkout.signature.rejected",
		metric.WithDescription("Payment confirmations rejected at the trust boundary"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "signature rejected counter")
	}

	return &instruments{
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		placed:      placed,
		settlements: settlements,
		rejected:    rejected,
	}, nil
}
