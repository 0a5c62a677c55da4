// Package sqlite is the embedded backend driver: a file backed engine opened
// per request, with no pool. Registry based execution and transactions are
// deliberately not implemented for this backend; handler code that needs the
// embedded engine talks to the request's handle directly.
package sqlite

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // Load SQLite driver

	"github.com/korthq/bx/closer"
	"github.com/korthq/bx/db"
	"github.com/korthq/bx/o11y"
)

type Config struct {
	// Path is the filesystem path to the database file. The parent directory
	// is created if it does not exist.
	Path string

	// WALMode enables write-ahead logging, which allows concurrent reads
	// during writes.
	WALMode bool

	// BusyTimeout is how long a statement waits on a locked database before
	// failing. Defaults to 5 seconds.
	BusyTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = 5 * time.Second
	}
}

// Driver holds the connection settings. Handles are opened per request (or
// explicitly via Open) and closed when the request completes, so Shutdown has
// nothing to release.
type Driver struct {
	dsn  string
	path string
}

// New prepares the driver and verifies the database file can be opened.
func New(ctx context.Context, cfg Config) (d *Driver, err error) {
	_, span := o11y.StartSpan(ctx, "sqlite: open")
	defer o11y.End(span, &err)

	cfg.withDefaults()
	span.AddField("path", cfg.Path)
	span.AddField("wal", cfg.WALMode)

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("could not create database directory: %w", err)
	}

	// connection string pragmas, see https://github.com/mattn/go-sqlite3#connection-string
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	if cfg.WALMode {
		dsn += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	d = &Driver{dsn: dsn, path: cfg.Path}

	h, err := d.Open()
	if err != nil {
		return nil, fmt.Errorf("could not open sqlite database: %w", err)
	}
	defer closer.ErrorHandler(h, &err)
	if err := h.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("could not ping sqlite database: %w", err)
	}
	return d, nil
}

// Open returns a fresh handle to the database file. The caller owns the
// handle and must close it.
func (d *Driver) Open() (*sqlx.DB, error) {
	h, err := sqlx.Open("sqlite3", d.dsn)
	if err != nil {
		return nil, err
	}
	// one writer at a time, the file engine serializes writes anyway
	h.SetMaxOpenConns(1)
	return h, nil
}

// Path returns the database file path.
func (d *Driver) Path() string {
	return d.path
}

func (d *Driver) Backend() db.Backend {
	return db.BackendSQLite
}

func (d *Driver) Capabilities() db.Capabilities {
	return db.Capabilities{Execute: false, Transactions: false}
}

// Execute is not implemented for the embedded backend. Handler code should
// use the request's scoped handle directly.
func (d *Driver) Execute(context.Context, string, map[string]interface{}, bool) ([]db.Row, error) {
	return nil, fmt.Errorf("%w: execute is not implemented for the sqlite backend, "+
		"use the request's database handle directly", db.ErrUnsupported)
}

// Transaction is not implemented for the embedded backend.
func (d *Driver) Transaction(context.Context) (db.Tx, error) {
	return nil, fmt.Errorf("%w: transactions are not implemented for the sqlite backend",
		db.ErrUnsupported)
}

// WithTransaction is not implemented for the embedded backend.
func (d *Driver) WithTransaction(context.Context, func(context.Context, db.Querier) error) error {
	return fmt.Errorf("%w: transactions are not implemented for the sqlite backend",
		db.ErrUnsupported)
}

// Middleware opens a fresh handle before the handler runs and attaches it to
// the request context. The handle is closed when the request completes, on
// every exit path.
func (d *Driver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		h, err := d.Open()
		if err != nil {
			o11y.LogError(ctx, "sqlite: open failed", err)
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		defer func() {
			// close must happen even when the handler panics; the
			// recovery middleware sits outside this one
			_ = h.Close()
		}()

		c.Request = c.Request.WithContext(db.WithConn(ctx, h))
		c.Next()
	}
}

// Shutdown is a no-op: handles are per request and closed at request end.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}
