package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/korthq/bx/o11y"
	"github.com/korthq/bx/recontext"
)

// drainTimeout bounds how long in-flight requests get once the run context
// is cancelled.
const drainTimeout = 10 * time.Second

type Config struct {
	// Name identifies the server in spans and gauge metrics.
	Name string
	// Addr is the listen address, which may use port 0 for tests.
	Addr string
	// Handler serves the requests.
	Handler http.Handler

	// Network defaults to "tcp"; any net.Listen network is accepted.
	Network string
}

// HTTPServer wraps an http.Server with a connection tracking listener and a
// graceful drain tied to context cancellation.
type HTTPServer struct {
	listener *trackedListener
	server   *http.Server
}

// New binds the listener immediately so the caller can read the resolved
// Addr before Serve is started.
func New(ctx context.Context, cfg Config) (s *HTTPServer, err error) {
	ctx, span := o11y.StartSpan(ctx, "server: new-server "+cfg.Name)
	defer o11y.End(span, &err)

	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	span.AddField("server_name", cfg.Name)
	span.AddField("network", cfg.Network)

	ln, err := net.Listen(cfg.Network, cfg.Addr)
	if err != nil {
		return nil, err
	}
	span.AddField("address", ln.Addr().String())

	return &HTTPServer{
		listener: &trackedListener{Listener: ln, name: cfg.Name},
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      cfg.Handler,
			ReadTimeout:  55 * time.Second,
			WriteTimeout: 55 * time.Second,
		},
	}, nil
}

// Serve blocks serving requests until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *HTTPServer) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return s.drain(ctx)
	})
	g.Go(func() error {
		err := s.server.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			// the expected path once drain has run
			return nil
		}
		return err
	})

	return g.Wait()
}

// drain shuts the server down on a context that keeps the o11y provider from
// the cancelled run context but not its cancellation.
func (s *HTTPServer) drain(ctx context.Context) error {
	ctx, cancel := recontext.WithNewTimeout(ctx, drainTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// MetricsProducer exposes the listener's connection gauges for the system
// metrics loop.
func (s *HTTPServer) MetricsProducer() MetricProducer {
	return s.listener
}

// Addr is the resolved listen address.
func (s *HTTPServer) Addr() string {
	return s.listener.Addr().String()
}
