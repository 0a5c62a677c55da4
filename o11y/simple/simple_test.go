package simple

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"

	"github.com/korthq/bx/internal/syncbuffer"
	"github.com/korthq/bx/o11y"
)

func TestProvider_SpanOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	p, err := New(Config{Service: "test-service", Writer: buf})
	assert.NilError(t, err)

	ctx := o11y.WithProvider(context.Background(), p)
	ctx, span := o11y.StartSpan(ctx, "do the thing")
	span.AddField("key", "value")
	o11y.AddField(ctx, "other", 42)
	span.End()

	out := buf.String()
	assert.Check(t, cmp.Contains(out, "do the thing"))
	assert.Check(t, cmp.Contains(out, "app.key=value"))
	assert.Check(t, cmp.Contains(out, "app.other=42"))
	assert.Check(t, cmp.Contains(out, "service=test-service"))
}

func TestProvider_EndResult(t *testing.T) {
	buf := &bytes.Buffer{}
	p, err := New(Config{Writer: buf})
	assert.NilError(t, err)
	ctx := o11y.WithProvider(context.Background(), p)

	run := func(e error) string {
		buf.Reset()
		err := e
		_, span := o11y.StartSpan(ctx, "work")
		o11y.End(span, &err)
		return buf.String()
	}

	assert.Check(t, cmp.Contains(run(nil), "result=success"))
	assert.Check(t, cmp.Contains(run(errors.New("bad")), "result=error"))
	assert.Check(t, cmp.Contains(run(o11y.NewWarning("meh")), "warning=meh"))

	out := run(context.Canceled)
	assert.Check(t, cmp.Contains(out, "result=canceled"))
}

func TestProvider_ConcurrentSpans(t *testing.T) {
	buf := &syncbuffer.SyncBuffer{}
	p, err := New(Config{Writer: buf})
	assert.NilError(t, err)
	ctx := o11y.WithProvider(context.Background(), p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, span := o11y.StartSpan(ctx, fmt.Sprintf("span-%d", i))
			span.AddField("n", i)
			span.End()
		}()
	}
	wg.Wait()

	out := buf.String()
	for i := 0; i < 10; i++ {
		assert.Check(t, cmp.Contains(out, fmt.Sprintf("span-%d", i)))
	}
}

func TestProvider_Log(t *testing.T) {
	buf := &bytes.Buffer{}
	p, err := New(Config{Writer: buf})
	assert.NilError(t, err)

	ctx := o11y.WithProvider(context.Background(), p)
	o11y.Log(ctx, "an event", o11y.Field("count", 3))

	line := buf.String()
	assert.Check(t, cmp.Contains(line, "an event"))
	assert.Check(t, strings.Contains(line, "count=3"), line)
}
