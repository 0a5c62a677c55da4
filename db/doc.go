/*
Package db is a unified access layer over the two database backends the
toolkit supports: an embedded single file engine (SQLite) and a client/server
relational engine with a connection pool (PostgreSQL).

A service is written against the backend agnostic DB facade. The concrete
backend is chosen once at process start by constructing the matching driver
and handing it to New; application code never references the backend again:

	drv, err := postgres.New(ctx, postgres.Config{...})
	...
	database := db.New(drv)
	database.Store("users:get_all", "SELECT * FROM users ORDER BY id")
	mw, err := database.Middleware()
	...
	router.Use(mw)

Handlers then issue queries by name and receive backend agnostic Rows:

	rows, err := database.Execute(ctx, "users:get_all", nil)

The facade only unifies connection lifecycle, result shape and error surface.
It is not a query planner, not an ORM and it does not abstract SQL dialects;
callers write backend specific SQL text.

Each driver contributes a gin middleware that scopes a connection to the
request: it acquires a connection (a pool checkout for PostgreSQL, a direct
handle for SQLite) before the handler runs, attaches it to the request
context, and releases it on every exit path including panics.
*/
package db
