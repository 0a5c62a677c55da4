package ginrouter

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/korthq/bx/o11y"
)

// Timer traces each request as a span: a log line when the request starts and
// one when it completes with the status code and elapsed milliseconds. Paths
// in skipPaths (typically health endpoints polled every few seconds) are not
// traced.
func Timer(provider o11y.Provider, serverName string, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		ctx := o11y.WithProvider(c.Request.Context(), provider)
		o11y.Log(ctx, fmt.Sprintf("http: %s %s", c.Request.Method, c.Request.URL.Path),
			o11y.Field("server_name", serverName),
		)

		ctx, span := o11y.StartSpan(ctx,
			fmt.Sprintf("http-server: %s %s", c.Request.Method, c.Request.URL.Path))
		c.Request = c.Request.WithContext(ctx)

		span.RecordMetric(o11y.Timing("http-server",
			"http.server_name", "http.method", "http.route", "http.status_code"))
		span.AddRawField("http.server_name", serverName)
		span.AddRawField("http.method", c.Request.Method)
		span.AddRawField("http.url", c.Request.URL.String())

		defer func() {
			if route := c.FullPath(); route != "" {
				span.AddRawField("http.route", route)
			}
			span.AddRawField("http.status_code", c.Writer.Status())
			if len(c.Errors) > 0 {
				span.AddRawField("http.errors", c.Errors.String())
			}
			span.End()
		}()

		c.Next()
	}
}
