package main

import (
	"context"
	"errors"
	"fmt"
	"log" //nolint:depguard // non-o11y log is allowed for a top-level fatal
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/korthq/bx/config"
	"github.com/korthq/bx/config/env"
	"github.com/korthq/bx/config/secret"
	"github.com/korthq/bx/db"
	"github.com/korthq/bx/db/postgres"
	"github.com/korthq/bx/db/sqlite"
	"github.com/korthq/bx/example/api"
	"github.com/korthq/bx/example/users"
	"github.com/korthq/bx/httpserver/healthcheck"
	"github.com/korthq/bx/o11y"
	"github.com/korthq/bx/o11y/simple"
	"github.com/korthq/bx/rundef"
	"github.com/korthq/bx/service"
	"github.com/korthq/bx/system"
	"github.com/korthq/bx/termination"
)

var version = "dev"

type cli struct {
	ConfigDir string `env:"CONFIG_DIR" default:"example/config" help:"Directory holding base.toml and env overlays"`
	Env       string `env:"APP_ENV" default:"dev" help:"Environment overlay to apply"`

	APIAddr   string `env:"API_ADDR" default:":8000" help:"The address for the API to listen on"`
	AdminAddr string `env:"ADMIN_ADDR" default:":8001" help:"The address for the admin API to listen on"`

	ShutdownDelay time.Duration `env:"SHUTDOWN_DELAY" default:"5s" help:"Delay shutdown by this amount" hidden:""`
}

func main() {
	err := run()
	if err != nil && !errors.Is(err, termination.ErrTerminated) {
		log.Fatal("Unexpected Error: ", err)
	}
	log.Println("exited 0")
}

func run() (err error) {
	cli := cli{}
	kong.Parse(&cli)

	cfg, err := config.Load(cli.ConfigDir, cli.Env)
	if err != nil {
		return err
	}

	provider, err := simple.New(simple.Config{
		Service:        "example-api",
		Version:        version,
		Mode:           cli.Env,
		StatsdAddr:     cfg.StringOr("statsd.addr", ""),
		StatsNamespace: cfg.StringOr("statsd.namespace", "example."),
	})
	if err != nil {
		return err
	}
	ctx := o11y.WithProvider(context.Background(), provider)
	defer provider.Close(ctx)

	ctx, runSpan := o11y.StartSpan(ctx, "main: run")
	defer o11y.End(runSpan, &err)

	o11y.Log(ctx, "starting api", o11y.Field("version", version))

	err = rundef.Defaults(ctx)
	if err != nil {
		o11y.LogError(ctx, "main: could not set runtime defaults", err)
	}

	sys := system.New(ctx)
	defer sys.Cleanup(ctx)

	d, err := loadDB(ctx, cfg, sys)
	if err != nil {
		return err
	}

	a := api.New(api.Options{Store: users.NewStore(d)})

	_, err = service.Load(ctx, service.Config{
		Name:           "api",
		Version:        version,
		Env:            cli.Env,
		AllowedOrigins: allowedOrigins(cfg),
		DB:             d,
		Register:       func(r *gin.Engine) { a.Register(r) },
	}, cli.APIAddr, sys)
	if err != nil {
		return err
	}

	// Should be last so it collects all the health checks
	_, err = healthcheck.Load(ctx, cli.AdminAddr, sys)
	if err != nil {
		return err
	}

	return sys.Run(cli.ShutdownDelay)
}

func allowedOrigins(cfg *config.Config) []string {
	origins, err := cfg.Strings("http.allowed_origins")
	if err != nil {
		return nil
	}
	return origins
}

func loadDB(ctx context.Context, cfg *config.Config, sys *system.System) (*db.DB, error) {
	backend, err := cfg.String("db.backend")
	if err != nil {
		return nil, err
	}

	switch db.Backend(backend) {
	case db.BackendPostgres:
		pc := postgres.Config{
			Host:     cfg.StringOr("db.postgres.host", "localhost"),
			Port:     cfg.IntOr("db.postgres.port", 5432),
			User:     cfg.StringOr("db.postgres.user", "postgres"),
			Pass:     secret.String(cfg.StringOr("db.postgres.pass", "")),
			Name:     cfg.StringOr("db.postgres.name", "example"),
			SSL:      cfg.BoolOr("db.postgres.ssl", false),
			AppName:  "example-api",
			PoolSize: cfg.IntOr("db.postgres.pool_size", 0),
		}

		// Deployment specific settings override the file configuration.
		l := env.NewLoader()
		l.String(&pc.Host, "POSTGRES_HOST")
		l.Int(&pc.Port, "POSTGRES_PORT")
		l.String(&pc.User, "POSTGRES_USER")
		l.Secret(&pc.Pass, "POSTGRES_PASSWORD")
		l.String(&pc.Name, "POSTGRES_DBNAME")
		l.Bool(&pc.SSL, "POSTGRES_SSL")
		if err := l.Err(); err != nil {
			return nil, err
		}

		drv, err := postgres.New(ctx, pc)
		if err != nil {
			return nil, err
		}
		hc := &postgres.HealthCheck{Name: "postgres", Pool: drv.Pool()}
		sys.AddHealthCheck(hc)
		sys.AddMetrics(hc)
		return db.New(drv), nil

	case db.BackendSQLite:
		sc := sqlite.Config{
			Path:    cfg.StringOr("db.sqlite.path", "example.db"),
			WALMode: cfg.BoolOr("db.sqlite.wal", true),
		}

		l := env.NewLoader()
		l.String(&sc.Path, "SQLITE_PATH")
		l.Bool(&sc.WALMode, "SQLITE_WAL")
		if err := l.Err(); err != nil {
			return nil, err
		}

		drv, err := sqlite.New(ctx, sc)
		if err != nil {
			return nil, err
		}
		return db.New(drv), nil
	}

	return nil, fmt.Errorf("unknown db backend: %q", backend)
}
