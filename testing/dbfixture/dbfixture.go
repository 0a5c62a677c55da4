// Package dbfixture gives each test its own PostgreSQL database on a locally
// running server: a randomly named database is created, the schema applied,
// and the database dropped again when the test ends. Without a reachable
// server the test skips, except in CI where a missing server is a failure.
package dbfixture

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"gotest.tools/v3/assert"

	"github.com/korthq/bx/config/secret"
	"github.com/korthq/bx/db"
	"github.com/korthq/bx/db/postgres"
	"github.com/korthq/bx/o11y"
)

// Connection locates the server the fixtures are created on.
type Connection struct {
	Host     string
	User     string
	Password secret.String
}

// Default reads the POSTGRES_* env vars, falling back to the address most
// local dev setups and CI containers expose.
func Default() Connection {
	con := Connection{
		Host:     os.Getenv("POSTGRES_HOST"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: secret.String(os.Getenv("POSTGRES_PASSWORD")),
	}
	if con.Host == "" {
		con.Host = "localhost:5432"
	}
	if con.User == "" {
		con.User = "postgres"
	}
	return con
}

// Fixture is one test's database.
type Fixture struct {
	DBName   string
	Host     string
	User     string
	Password secret.String
	DB       *sqlx.DB
	Driver   *postgres.Driver
}

// Facade activates the fixture's driver behind a fresh db facade.
func (f *Fixture) Facade(opts ...db.Option) *db.DB {
	return db.New(f.Driver, opts...)
}

// SetupDB creates a database named after the test, applies schema, and
// registers a cleanup that drops it. It skips the test when no server is
// reachable, unless CI insists everything runs.
func SetupDB(ctx context.Context, t testing.TB, schema string, con Connection) *Fixture {
	t.Helper()

	adm := adminConn(t, con)

	fix, err := adm.create(ctx, con, fixtureName(t.Name()), schema)
	assert.NilError(t, err)

	t.Cleanup(func() {
		// the test's context is often done by now; cleanup gets its own,
		// keeping the provider
		p := o11y.FromContext(ctx)
		ctx, cancel := context.WithTimeout(o11y.WithProvider(context.Background(), p), 10*time.Second)
		defer cancel()

		assert.NilError(t, adm.drop(ctx, fix))
	})
	return fix
}

// fixtureName makes a unique database name, within postgres' identifier
// length limit.
func fixtureName(testName string) string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "not-random--i-hope-thats-ok"
	}
	name := fmt.Sprintf("%s-%s", hex.EncodeToString(suffix), testName)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// admin holds the one connection to the server's maintenance database,
// shared by every fixture in the test binary.
type admin struct {
	db *sqlx.DB
}

var (
	adminOnce  sync.Once
	adminShare *admin

	mustRunAllTests = os.Getenv("CI") == "true"
)

func adminConn(t testing.TB, con Connection) *admin {
	t.Helper()

	adminOnce.Do(func() {
		d, err := open(con, "postgres")
		if err != nil {
			var noDB *NoDBError
			if errors.As(err, &noDB) && !mustRunAllTests {
				t.Skip(noDB.Error())
			}
			t.Fatal(err.Error())
		}
		adminShare = &admin{db: d}
	})
	if adminShare == nil {
		t.Skip("admin connection failed setup in an earlier test")
	}
	return adminShare
}

func (a *admin) create(ctx context.Context, con Connection, dbName, schema string) (_ *Fixture, err error) {
	ctx, span := o11y.StartSpan(ctx, "dbfixture: new db")
	defer o11y.End(span, &err)
	span.AddField("dbname", dbName)
	span.AddField("host", con.Host)

	_, err = a.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName)))
	if err != nil {
		return nil, err
	}

	fix := &Fixture{DBName: dbName, Host: con.Host, User: con.User, Password: con.Password}
	fix.DB, err = open(con, dbName)
	if err != nil {
		return nil, err
	}
	fix.Driver = postgres.NewFromPool(fix.DB, 0)

	o11y.Log(ctx, "applying schema")
	if _, err := fix.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return fix, nil
}

func (a *admin) drop(ctx context.Context, fix *Fixture) error {
	if err := fix.DB.Close(); err != nil {
		o11y.LogError(ctx, "dbfixture: cleanup", err)
	}

	if os.Getenv("TEST_PRESERVE_DB") != "" {
		return nil
	}

	// kick out any malingering connections before dropping the database
	_, err := a.db.ExecContext(ctx,
		fmt.Sprintf("REVOKE CONNECT ON DATABASE %s FROM public;", pq.QuoteIdentifier(fix.DBName)))
	if err != nil {
		return fmt.Errorf("revoke con: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
SELECT pid, pg_terminate_backend(pid)
FROM pg_stat_activity
WHERE datname = $1 AND pid <> pg_backend_pid();`, fix.DBName)
	if err != nil {
		o11y.LogError(ctx, "dbfixture: cleanup drop con", err)
	}

	_, err = a.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE %s", pq.QuoteIdentifier(fix.DBName)))
	if err != nil {
		return fmt.Errorf("drop db: %w", err)
	}
	return nil
}

// NoDBError marks connection failures that mean "no local server", the
// signal to skip rather than fail.
type NoDBError struct {
	err error
}

func (e *NoDBError) Error() string {
	return fmt.Sprintf("no database available: %s", e.err)
}

func (e *NoDBError) Unwrap() error {
	return e.err
}

func open(con Connection, name string) (*sqlx.DB, error) {
	params := url.Values{}
	params.Set("connect_timeout", "5")
	params.Set("sslmode", "disable")

	uri := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(con.User, con.Password.Raw()),
		Host:     con.Host,
		Path:     name,
		RawQuery: params.Encode(),
	}

	d, err := sqlx.Open("postgres", uri.String())
	if err != nil {
		return nil, err
	}
	d.SetConnMaxLifetime(time.Hour)
	d.SetMaxOpenConns(10)
	d.SetMaxIdleConns(5)

	if err := d.Ping(); err != nil {
		return nil, &NoDBError{err: err}
	}
	return d, nil
}
