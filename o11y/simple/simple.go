// Package simple is a lightweight o11y provider that writes spans to a standard
// logger and forwards recorded metrics to a statsd agent. It is intended for
// development, tests and services that do not ship traces to a dedicated backend.
package simple

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/DataDog/datadog-go/statsd"

	"github.com/korthq/bx/colourise"
	"github.com/korthq/bx/o11y"
)

type Config struct {
	// Service is added to every span as a global field.
	Service string
	Version string
	// Mode is the runtime environment name. "dev" colourises the span output.
	Mode string

	// StatsdAddr is the host:port of a statsd agent. If empty metrics are discarded.
	StatsdAddr string
	// StatsNamespace prefixes all metric names.
	StatsNamespace string

	// Writer receives the formatted span and log output. Defaults to os.Stderr.
	Writer io.Writer
}

// New creates the provider. The caller should call Close on the returned
// provider at process shutdown.
func New(cfg Config) (o11y.Provider, error) {
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	var metrics o11y.MetricsProvider = &statsd.NoOpClient{}
	var closer io.Closer
	if cfg.StatsdAddr != "" {
		stats, err := statsd.New(cfg.StatsdAddr,
			statsd.WithNamespace(cfg.StatsNamespace),
		)
		if err != nil {
			return nil, fmt.Errorf("could not create statsd client: %w", err)
		}
		metrics = stats
		closer = stats
	}

	p := &provider{
		logger:        log.New(cfg.Writer, "", log.LstdFlags|log.Lmicroseconds),
		metrics:       metrics,
		metricsCloser: closer,
		globals:       map[string]interface{}{},
		colour:        cfg.Mode == "dev",
	}
	if cfg.Service != "" {
		p.AddGlobalField("service", cfg.Service)
	}
	if cfg.Version != "" {
		p.AddGlobalField("version", cfg.Version)
	}
	if cfg.Mode != "" {
		p.AddGlobalField("mode", cfg.Mode)
	}
	return p, nil
}

type provider struct {
	logger        *log.Logger
	metrics       o11y.MetricsProvider
	metricsCloser io.Closer
	colour        bool

	mu      sync.RWMutex
	globals map[string]interface{}
}

func (p *provider) AddGlobalField(key string, val interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globals[key] = val
}

type spanKey struct{}

func (p *provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	s := &span{
		provider: p,
		name:     name,
		start:    time.Now(),
		fields:   map[string]interface{}{},
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

func (p *provider) GetSpan(ctx context.Context) o11y.Span {
	if s, ok := ctx.Value(spanKey{}).(*span); ok {
		return s
	}
	return nil
}

func (p *provider) AddField(ctx context.Context, key string, val interface{}) {
	if s := p.GetSpan(ctx); s != nil {
		s.AddField(key, val)
	}
}

func (p *provider) Log(ctx context.Context, name string, fields ...o11y.Pair) {
	fm := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		fm[f.Key] = f.Value
	}
	p.logger.Printf("%s %s", name, formatFields(fm))
}

func (p *provider) Close(_ context.Context) {
	if p.metricsCloser != nil {
		_ = p.metricsCloser.Close()
	}
}

func (p *provider) MetricsProvider() o11y.MetricsProvider {
	return p.metrics
}

type span struct {
	provider *provider
	name     string
	start    time.Time

	mu      sync.Mutex
	fields  map[string]interface{}
	metrics []o11y.Metric
	done    bool
}

func (s *span) AddField(key string, val interface{}) {
	s.AddRawField("app."+key, val)
}

func (s *span) AddRawField(key string, val interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := val.(error); ok {
		val = err.Error()
	}
	s.fields[key] = val
}

func (s *span) RecordMetric(metric o11y.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, metric)
}

func (s *span) End() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	duration := time.Since(s.start)
	s.fields["duration_ms"] = float64(duration.Nanoseconds()) / 1e6
	fields := make(map[string]interface{}, len(s.fields))
	for k, v := range s.fields {
		fields[k] = v
	}
	metrics := s.metrics
	s.mu.Unlock()

	s.provider.mu.RLock()
	for k, v := range s.provider.globals {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	s.provider.mu.RUnlock()

	name := s.name
	if s.provider.colour {
		if _, failed := fields["error"]; failed {
			name = colourise.ErrorHighlight(name)
		} else {
			name = colourise.ApplyColour(name)
		}
	}
	s.provider.logger.Printf("%s (%.2fms) %s", name, fields["duration_ms"], formatFields(fields))
	s.sendMetrics(fields, metrics)
}

func (s *span) sendMetrics(fields map[string]interface{}, metrics []o11y.Metric) {
	m := s.provider.metrics
	for _, metric := range metrics {
		tags := make([]string, 0, len(metric.TagFields))
		for _, tf := range metric.TagFields {
			if v, ok := getField(tf, fields); ok {
				tags = append(tags, fmt.Sprintf("%s:%v", tf, v))
			}
		}
		switch metric.Type {
		case o11y.MetricTimer:
			if raw, ok := getField(metric.Field, fields); ok {
				if v, ok := toFloat(raw); ok {
					_ = m.TimeInMilliseconds(metric.Name, v, tags, 1)
				}
			}
		case o11y.MetricGauge:
			if raw, ok := getField(metric.Field, fields); ok {
				if v, ok := toFloat(raw); ok {
					_ = m.Gauge(metric.Name, v, tags, 1)
				}
			}
		case o11y.MetricCount:
			_ = m.Count(metric.Name, 1, tags, 1)
		}
	}
}

// getField also checks the app. prefixed form, so application fields added
// with AddField can drive metric values and tags.
func getField(name string, fields map[string]interface{}) (interface{}, bool) {
	val, ok := fields[name]
	if !ok {
		val, ok = fields["app."+name]
	}
	return val, ok
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func formatFields(fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "duration_ms" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, " ")
}
