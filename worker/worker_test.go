package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/korthq/bx/o11y"
)

// countingBackOff records how the loop drives its idle delays.
type countingBackOff struct {
	delay  time.Duration
	nexts  int
	resets int
}

func (b *countingBackOff) NextBackOff() time.Duration {
	b.nexts++
	return b.delay
}

func (b *countingBackOff) Reset() {
	b.resets++
}

var _ backoff.BackOff = &countingBackOff{}

func TestRun_IdlesWhenNothingToDo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// A queue that is always empty: every cycle asks to back off.
	cycles := 0
	drain := func(ctx context.Context) error {
		cycles++
		if cycles == 10 {
			cancel()
		}
		return ErrShouldBackoff
	}

	sleeps := 0
	bo := &countingBackOff{}
	Run(ctx, Config{
		Name:          "queue-drain",
		WorkFunc:      drain,
		NoWorkBackOff: bo,
		sleep:         func(context.Context, time.Duration) { sleeps++ },
	})

	assert.Check(t, cmp.Equal(bo.nexts, 10))
	assert.Check(t, cmp.Equal(sleeps, 10))
	assert.Check(t, cmp.Equal(bo.resets, 1),
		"an idle run should only reset the backoff once, at startup")
}

func TestRun_ProductiveCyclesDoNotIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// A queue holding three items: each cycle finds work.
	queue := []string{"jane@example.com", "john@example.com", "pat@example.com"}
	drain := func(ctx context.Context) error {
		queue = queue[1:]
		if len(queue) == 0 {
			cancel()
		}
		return nil
	}

	bo := &countingBackOff{}
	Run(ctx, Config{
		Name:          "queue-drain",
		WorkFunc:      drain,
		NoWorkBackOff: bo,
		sleep: func(context.Context, time.Duration) {
			t.Error("the loop should not sleep while the queue has items")
		},
	})

	assert.Check(t, cmp.Equal(bo.nexts, 0))
	// reset at startup, then once per productive cycle
	assert.Check(t, cmp.Equal(bo.resets, 4))
}

func TestRun_FailingCyclesDoNotIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cycles := 0
	drain := func(ctx context.Context) error {
		cycles++
		if cycles == 3 {
			cancel()
		}
		return errors.New("the queue store is down")
	}

	bo := &countingBackOff{}
	Run(ctx, Config{
		Name:          "queue-drain",
		WorkFunc:      drain,
		NoWorkBackOff: bo,
		sleep: func(context.Context, time.Duration) {
			t.Error("failures should retry without the no-work delay")
		},
	})

	assert.Check(t, cmp.Equal(bo.nexts, 0))
	assert.Check(t, cmp.Equal(bo.resets, 4))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cycles := 0
	done := make(chan struct{})
	go func() {
		Run(ctx, Config{
			Name: "queue-drain",
			WorkFunc: func(ctx context.Context) error {
				cycles++
				time.Sleep(time.Millisecond)
				return nil
			},
		})
		close(done)
	}()

	time.Sleep(time.Millisecond * 100)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("the loop did not notice the cancelled context")
	}
	assert.Check(t, cycles > 1)
}

func TestCycle_ContainsPanics(t *testing.T) {
	ctx := context.Background()
	l := &loop{
		cfg: Config{
			Name:     "queue-drain",
			WorkFunc: func(ctx context.Context) error { panic("oops") },
		}.withDefaults(),
		provider: o11y.FromContext(ctx),
	}

	// the panic is absorbed and the loop moves straight to the next cycle
	assert.Check(t, l.cycle() < 0)
}
