// Package o11y is the observability surface the rest of the toolkit writes
// to: spans for units of work, zero duration log events, and metrics cut from
// span fields. A concrete Provider travels in the context; without one every
// call is a safe no-op.
package o11y

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/DataDog/datadog-go/statsd"
)

// Provider is the tracing backend. One is constructed at process start and
// placed in the root context with WithProvider.
type Provider interface {
	// AddGlobalField attaches key/val to every span the provider produces,
	// for process wide facts such as service, version and environment.
	AddGlobalField(key string, val interface{})

	// StartSpan opens a span for a unit of work. name should be short,
	// human readable and low cardinality; details like the query name
	// belong in fields. The caller must End the span, usually via defer.
	StartSpan(ctx context.Context, name string) (context.Context, Span)

	// GetSpan returns the span active in ctx, or nil if there is none.
	GetSpan(ctx context.Context) Span

	// AddField adds application data to the span active in ctx.
	AddField(ctx context.Context, key string, val interface{})

	// Log emits a zero duration trace event.
	Log(ctx context.Context, name string, fields ...Pair)

	// Close flushes and releases the provider. Nothing may use the
	// provider afterwards.
	Close(ctx context.Context)

	// MetricsProvider exposes the raw metrics client for callers that need
	// to emit without a span.
	MetricsProvider() MetricsProvider
}

// Span is one traced unit of work.
type Span interface {
	// AddField adds application data to the span. Keys are namespaced by
	// the provider to keep them clear of the plumbing fields.
	AddField(key string, val interface{})

	// AddRawField adds data without namespacing, for library code writing
	// conventional keys such as result, error or db.system.
	AddRawField(key string, val interface{})

	// RecordMetric arranges for metric to be emitted when the span ends,
	// with its value and tags read from the span's fields.
	RecordMetric(metric Metric)

	// End completes the span. The span must not be used afterwards.
	End()
}

// MetricsProvider is the subset of the statsd client the toolkit uses.
type MetricsProvider interface {
	// TimeInMilliseconds records timing data, such as a call duration.
	TimeInMilliseconds(name string, value float64, tags []string, rate float64) error
	// Gauge records the level of something at one point in time.
	Gauge(name string, value float64, tags []string, rate float64) error
	// Count records occurrences.
	Count(name string, value int64, tags []string, rate float64) error
}

type providerKey struct{}

// WithProvider stores p in the returned context for FromContext to find.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// FromContext returns the Provider carried by ctx, or the no-op provider so
// callers never need a nil check.
func FromContext(ctx context.Context) Provider {
	provider, ok := ctx.Value(providerKey{}).(Provider)
	if !ok {
		return defaultProvider
	}
	return provider
}

// StartSpan opens a span on the provider carried by ctx.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return FromContext(ctx).StartSpan(ctx, name)
}

// AddField adds application data to the span active in ctx.
func AddField(ctx context.Context, key string, val interface{}) {
	FromContext(ctx).AddField(ctx, key, val)
}

// Log emits a zero duration trace event.
func Log(ctx context.Context, name string, fields ...Pair) {
	FromContext(ctx).Log(ctx, name, fields...)
}

// LogError emits a zero duration trace event classified from err.
func LogError(ctx context.Context, name string, err error, fields ...Pair) {
	_, span := StartSpan(ctx, name)
	for _, f := range fields {
		span.AddField(f.Key, f.Value)
	}
	AddResultToSpan(span, err)
	span.End()
}

// End completes span, classifying it from the pointed-to error.
//
// Use it with a named return and a pointer:
//
//	defer o11y.End(span, &err)
//
// Deferring through the pointer on the line after StartSpan still observes
// the final value of err, since the deref happens when the defer runs.
func End(span Span, err *error) {
	var actualErr error
	if err != nil {
		actualErr = *err
	}
	AddResultToSpan(span, actualErr)
	span.End()
}

// AddResultToSpan writes the result classification of err onto span: success,
// warning, canceled, or error. Warnings and cancellations deliberately avoid
// the error field so they do not surface in error searches.
func AddResultToSpan(span Span, err error) {
	switch {
	case IsWarning(err):
		span.AddRawField("warning", err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		span.AddRawField("result", "canceled")
		span.AddRawField("warning", err.Error())
		return
	case err != nil:
		span.AddRawField("result", "error")
		span.AddRawField("error", err.Error())
		return
	}
	span.AddRawField("result", "success")
}

// HandlePanic converts a recovered panic into an error, recording it on the
// span with the stack trace and a counter metric.
func HandlePanic(ctx context.Context, span Span, panic interface{}) (err error) {
	err = fmt.Errorf("panic handled: %+v", panic)
	span.AddRawField("panic", panic)
	span.AddRawField("has_panicked", "true")
	span.AddRawField("stack", string(debug.Stack()))
	span.RecordMetric(Incr("panics", "name"))
	return err
}

type MetricType string

const (
	MetricTimer = "timer"
	MetricGauge = "gauge"
	MetricCount = "count"
)

// Metric describes a metric to cut from a span when it ends: Field names the
// span field holding the value, TagFields the span fields to carry as tags.
type Metric struct {
	Type      MetricType
	Name      string
	Field     string
	TagFields []string
}

// Timing emits the span duration as a timer metric.
func Timing(name string, fields ...string) Metric {
	return Metric{Type: MetricTimer, Name: name, Field: "duration_ms", TagFields: fields}
}

// Incr emits a count of one.
func Incr(name string, fields ...string) Metric {
	return Metric{Type: MetricCount, Name: name, TagFields: fields}
}

// Gauge emits the value of the named span field as a gauge.
func Gauge(name string, valueField string, tagFields ...string) Metric {
	return Metric{Type: MetricGauge, Name: name, Field: valueField, TagFields: tagFields}
}

// Pair is one piece of span metadata.
type Pair struct {
	Key   string
	Value interface{}
}

// Field constructs a Pair.
func Field(key string, value interface{}) Pair {
	return Pair{Key: key, Value: value}
}

var defaultProvider = &noopProvider{}

type noopProvider struct{}

func (c *noopProvider) AddGlobalField(string, interface{}) {}

func (c *noopProvider) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, &noopSpan{}
}

func (c *noopProvider) GetSpan(context.Context) Span {
	return &noopSpan{}
}

func (c *noopProvider) AddField(context.Context, string, interface{}) {}

func (c *noopProvider) Log(context.Context, string, ...Pair) {}

func (c *noopProvider) Close(context.Context) {}

func (c *noopProvider) MetricsProvider() MetricsProvider {
	return &statsd.NoOpClient{}
}

type noopSpan struct{}

func (s *noopSpan) AddField(string, interface{})    {}
func (s *noopSpan) AddRawField(string, interface{}) {}
func (s *noopSpan) RecordMetric(Metric)             {}
func (s *noopSpan) End()                            {}
