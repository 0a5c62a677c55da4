// Package service bootstraps the public API of a process: the router with the
// health endpoint, optional CORS, the active database middleware, and the
// wiring of the server and database lifecycle into a system.System.
package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/korthq/bx/db"
	"github.com/korthq/bx/httpserver"
	"github.com/korthq/bx/httpserver/ginrouter"
	"github.com/korthq/bx/o11y"
	"github.com/korthq/bx/system"
)

type Config struct {
	// Name identifies the service in spans and server names.
	Name string
	// Version is reported by the health endpoint.
	Version string
	// Env is the runtime environment name (dev, staging, prod), reported by
	// the health endpoint.
	Env string

	// AllowedOrigins enables CORS for the listed origins. "*" allows any.
	// Empty leaves CORS off.
	AllowedOrigins []string

	// DB, when set, has its connection middleware installed on every route.
	DB *db.DB

	// Register, when set, is called with the router after the middleware is
	// in place so the caller can attach its routes.
	Register func(r *gin.Engine)
}

var startTime = time.Now()

// NewRouter builds the public router: timing middleware, optional CORS, the
// health endpoint and the database connection middleware.
func NewRouter(ctx context.Context, cfg Config) (*gin.Engine, error) {
	r := ginrouter.Default(ctx, cfg.Name)

	r.Use(requestIDMiddleware())

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(corsMiddleware(cfg.AllowedOrigins))
	}

	r.GET("/health", healthHandler(cfg))

	if cfg.DB != nil {
		mw, err := cfg.DB.Middleware()
		if err != nil {
			return nil, fmt.Errorf("could not install db middleware: %w", err)
		}
		r.Use(mw)
	}

	if cfg.Register != nil {
		cfg.Register(r)
	}

	return r, nil
}

// Load builds the router, starts serving it on addr through sys, and ties the
// database shutdown into the system cleanup phase.
func Load(ctx context.Context, cfg Config, addr string, sys *system.System) (*httpserver.HTTPServer, error) {
	r, err := NewRouter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	srv, err := httpserver.Load(ctx, httpserver.Config{
		Name:    cfg.Name,
		Addr:    addr,
		Handler: r,
	}, sys)
	if err != nil {
		return nil, err
	}

	if cfg.DB != nil {
		sys.AddCleanup(cfg.DB.Shutdown)
	}

	return srv, nil
}

func healthHandler(cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// health responses must never be cached by intermediaries
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, gin.H{
			"request_ts": time.Now().UTC().Format(time.RFC3339),
			"status":     "UP",
			"uptime":     time.Since(startTime).String(),
			"version":    cfg.Version,
			"env":        cfg.Env,
		})
	}
}

// requestIDMiddleware honours an inbound X-Request-ID, minting one when the
// caller did not send one, and reflects it on the response and the trace.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		o11y.AddField(c.Request.Context(), "request_id", id)
		c.Next()
	}
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	any := false
	for _, o := range allowed {
		if o == "*" {
			any = true
		}
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (any || contains(allowed, origin)) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
