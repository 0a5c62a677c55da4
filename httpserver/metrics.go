package httpserver

import (
	"context"
)

// MetricProducer is anything that can report a group of gauge readings, such
// as the tracked listener's connection counts.
type MetricProducer interface {
	// MetricName scopes this producer's gauges. It is a method rather than
	// a plain Name to stay clear of clashes on implementing types.
	MetricName() string
	// Gauges are instantaneous name value pairs.
	Gauges(context.Context) map[string]float64
}
