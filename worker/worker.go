package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/korthq/bx/o11y"
)

// ErrShouldBackoff is returned by a WorkFunc whose cycle found nothing to do.
var ErrShouldBackoff = errors.New("should back off")

type Config struct {
	// Name labels the loop in spans and metrics.
	Name string
	// WorkFunc is called repeatedly until the run context is cancelled.
	WorkFunc func(ctx context.Context) error
	// MaxWorkTime bounds a single cycle. Defaults to a minute.
	MaxWorkTime time.Duration
	// NoWorkBackOff shapes the idle delays between empty cycles. Defaults
	// to an exponential backoff from 50ms capped at 5 seconds.
	NoWorkBackOff backoff.BackOff

	sleep func(ctx context.Context, d time.Duration) // test hook
}

// Run calls cfg.WorkFunc in a loop until ctx is cancelled. Cycles reporting
// ErrShouldBackoff idle the loop; any productive cycle resets the idle delay.
// A panicking cycle is recorded and the loop carries on.
func Run(ctx context.Context, cfg Config) {
	l := &loop{
		cfg:      cfg.withDefaults(),
		provider: o11y.FromContext(ctx),
	}
	l.cfg.NoWorkBackOff.Reset()

	for ctx.Err() == nil {
		idle := l.cycle()
		if idle < 0 {
			l.cfg.NoWorkBackOff.Reset()
			continue
		}
		l.cfg.sleep(ctx, idle)
	}
}

func (c Config) withDefaults() Config {
	if c.MaxWorkTime == 0 {
		c.MaxWorkTime = time.Minute
	}
	if c.NoWorkBackOff == nil {
		b := &backoff.ExponentialBackOff{
			InitialInterval: time.Millisecond * 50,
			Multiplier:      2,
			MaxInterval:     time.Second * 5,
			MaxElapsedTime:  0,
			Clock:           backoff.SystemClock,
		}
		b.Reset()
		c.NoWorkBackOff = b
	}
	if c.sleep == nil {
		c.sleep = sleep
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

type loop struct {
	cfg      Config
	provider o11y.Provider
}

// cycle runs one bounded call of the work func and returns how long the loop
// should idle, negative when it should go straight into the next cycle.
//
// The cycle context is derived from Background, not the run context, so a
// cancelled run still lets an in-flight cycle complete within MaxWorkTime.
func (l *loop) cycle() (idle time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.MaxWorkTime)
	defer cancel()
	ctx = o11y.WithProvider(ctx, l.provider)

	ctx, span := l.provider.StartSpan(ctx, "worker loop: "+l.cfg.Name)
	span.RecordMetric(o11y.Timing("worker_loop", "loop_name", "result"))
	span.AddField("loop_name", l.cfg.Name)
	var err error
	defer o11y.End(span, &err)

	// Contain panics the way net/http.ServeHTTP does, so one bad cycle does
	// not kill the loop.
	defer func() {
		if r := recover(); r != nil {
			err = o11y.HandlePanic(ctx, span, r)
		}
	}()

	idle = -1
	err = l.cfg.WorkFunc(ctx)
	if errors.Is(err, ErrShouldBackoff) {
		idle = l.cfg.NoWorkBackOff.NextBackOff()
		err = nil
	}

	span.AddField("backoff_ms", idle.Milliseconds())
	return idle
}
