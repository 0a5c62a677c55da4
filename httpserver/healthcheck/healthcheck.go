// Package healthcheck is the admin API: kubernetes style liveness and
// readiness endpoints aggregated from the system's health checkers, plus the
// runtime profiling handlers.
package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hellofresh/health-go/v4"

	"github.com/korthq/bx/httpserver/ginrouter"
	"github.com/korthq/bx/system"
)

type API struct {
	router *gin.Engine
}

func New(ctx context.Context, checked []system.HealthChecker) (*API, error) {
	live, ready, err := aggregate(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to create health checks: %w", err)
	}

	r := ginrouter.Default(ctx, "admin")
	r.GET("/live", gin.WrapH(live.Handler()))
	r.GET("/ready", gin.WrapH(ready.Handler()))
	r.GET("/debug/pprof/*profile", profiles)

	return &API{router: r}, nil
}

func (a *API) Handler() http.Handler {
	return a.router
}

// aggregate collects every checker's ready and live funcs into the two
// health-go instances backing the endpoints.
func aggregate(checked []system.HealthChecker) (live, ready *health.Health, err error) {
	live, err = health.New()
	if err != nil {
		return nil, nil, err
	}
	ready, err = health.New()
	if err != nil {
		return nil, nil, err
	}

	for _, c := range checked {
		name, readyCheck, liveCheck := c.HealthChecks()
		if err := register(ready, name, readyCheck); err != nil {
			return nil, nil, err
		}
		if err := register(live, name, liveCheck); err != nil {
			return nil, nil, err
		}
	}
	return live, ready, nil
}

func register(h *health.Health, name string, check func(ctx context.Context) error) error {
	if check == nil {
		return nil
	}
	return h.Register(health.Config{
		Name:      name,
		Timeout:   time.Second * 5,
		SkipOnErr: false,
		Check:     check,
	})
}

func profiles(c *gin.Context) {
	switch c.Param("profile") {
	case "/cmdline":
		pprof.Cmdline(c.Writer, c.Request)
	case "/profile":
		pprof.Profile(c.Writer, c.Request)
	case "/symbol":
		pprof.Symbol(c.Writer, c.Request)
	case "/trace":
		pprof.Trace(c.Writer, c.Request)
	default:
		// the index handler serves the named profiles itself, and 404s
		// anything it does not know
		pprof.Index(c.Writer, c.Request)
	}
}
