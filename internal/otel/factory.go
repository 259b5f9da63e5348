package otel

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// MetricFactory creates instruments on the global meter under a common prefix.
// Instruments created before Init delegate to the provider installed later.
type MetricFactory struct {
	meter  metric.Meter
	prefix string
}

func NewFactory(meterName, prefix string) *MetricFactory {
	return &MetricFactory{
		meter:  otel.Meter(meterName),
		prefix: prefix,
	}
}

func (f *MetricFactory) name(suffix string) string {
	if f.prefix == "" {
		return suffix
	}
	return f.prefix + "." + suffix
}

// instrument panics on failure; instruments are created from package init.
func instrument[T any](target *T, name string, create func(string) (T, error)) {
	inst, err := create(name)
	if err != nil {
		panic(fmt.Sprintf("failed to create instrument %s: %v", name, err))
	}
	*target = inst
}

func (f *MetricFactory) Int64Counter(target *metric.Int64Counter, name string, options ...metric.Int64CounterOption) {
	instrument(target, f.name(name), func(n string) (metric.Int64Counter, error) {
		return f.meter.Int64Counter(n, options...)
	})
}

func (f *MetricFactory) Int64UpDownCounter(target *metric.Int64UpDownCounter, name string, options ...metric.Int64UpDownCounterOption) {
	instrument(target, f.name(name), func(n string) (metric.Int64UpDownCounter, error) {
		return f.meter.Int64UpDownCounter(n, options...)
	})
}

func (f *MetricFactory) Float64Histogram(target *metric.Float64Histogram, name string, options ...metric.Float64HistogramOption) {
	instrument(target, f.name(name), func(n string) (metric.Float64Histogram, error) {
		return f.meter.Float64Histogram(n, options...)
	})
}
