package system

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/korthq/bx/o11y"
	"github.com/korthq/bx/recontext"
	"github.com/korthq/bx/termination"
)

// System collects everything a service process runs: the long lived services,
// their health checks, gauge producers and the ordered cleanups for teardown.
type System struct {
	group           *errgroup.Group
	ctx             context.Context
	services        []func(context.Context) error
	healthChecks    []HealthChecker
	metricProducers []MetricProducer
	cleanups        []func(ctx context.Context) error
}

// HealthChecker is implemented by anything that wants to be included in the
// health check endpoints. Either of ready or live may be nil.
type HealthChecker interface {
	HealthChecks() (name string, ready, live func(ctx context.Context) error)
}

func New(ctx context.Context) *System {
	group, ctx := errgroup.WithContext(ctx)
	return &System{
		group: group,
		ctx:   ctx,
	}
}

var terminationTestHook = termination.Handle

// Run starts every added service plus the signal handler and, when there are
// producers, the metrics loop. It blocks until a service fails or the process
// is told to terminate.
func (s *System) Run(delay time.Duration) (err error) {
	_, uptimeSpan := o11y.StartSpan(s.ctx, "system: run")
	defer o11y.End(uptimeSpan, &err)
	uptimeSpan.RecordMetric(o11y.Timing("system.run", "result"))

	s.group.Go(func() error {
		return terminationTestHook(s.ctx, delay)
	})

	for _, f := range s.services {
		f := f // capture before the goroutines start
		s.group.Go(func() error {
			return f(s.ctx)
		})
	}

	if len(s.metricProducers) > 0 {
		s.group.Go(metricsReporter(s.ctx, s.metricProducers))
	}

	return s.group.Wait()
}

func (s *System) AddService(svc func(ctx context.Context) error) {
	s.services = append(s.services, svc)
}

func (s *System) AddHealthCheck(h HealthChecker) {
	s.healthChecks = append(s.healthChecks, h)
}

func (s *System) AddMetrics(m MetricProducer) {
	s.metricProducers = append(s.metricProducers, m)
}

func (s *System) AddCleanup(c func(ctx context.Context) error) {
	s.cleanups = append(s.cleanups, c)
}

func (s *System) HealthChecks() []HealthChecker {
	return s.healthChecks
}

// Cleanup runs the registered cleanups in order, logging rather than
// propagating their failures so a bad cleanup never masks the ones after it.
func (s *System) Cleanup(ctx context.Context) {
	// the run context is usually cancelled by the time cleanup runs
	ctx, cancel := recontext.WithNewTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, c := range s.cleanups {
		err := c(ctx)
		if err != nil {
			o11y.Log(ctx, "system: cleanup error", o11y.Field("error", err))
		}
	}
}
