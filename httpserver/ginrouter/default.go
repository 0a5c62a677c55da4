// Package ginrouter builds the gin engine the servers in this repo use: panic
// recovery, client cancel mapping and a request timing middleware that traces
// every request except the health endpoints.
package ginrouter

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/korthq/bx/httpserver"
	"github.com/korthq/bx/o11y"
)

var once sync.Once

func Default(ctx context.Context, serverName string) *gin.Engine {
	once.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	r := gin.New()
	r.Use(
		Timer(o11y.FromContext(ctx), serverName, "/health", "/live", "/ready"),
		gin.Recovery(),
		httpserver.HandleClientCancel,
	)

	r.UseRawPath = true

	return r
}
