// Package users is the example data access layer: a store written against
// the backend agnostic db facade, with its SQL held in the query registry.
// Backends that do not support dispatched execution (the embedded engine)
// are served through the request's scoped handle instead.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/korthq/bx/db"
	"github.com/korthq/bx/o11y"
)

var ErrNotFound = o11y.NewWarning("user not found")

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Store struct {
	db *db.DB
}

func NewStore(d *db.DB) *Store {
	s := &Store{db: d}
	s.registerQueries()
	return s
}

func (s *Store) registerQueries() {
	s.db.Store("users:get_all", `
SELECT id, name, email FROM users ORDER BY id;`)

	s.db.Store("users:get_one", `
SELECT id, name, email FROM users WHERE id = :id;`)

	s.db.Store("users:insert", `
INSERT INTO users (name, email) VALUES (:name, :email) RETURNING id;`)

	s.db.Store("users:delete", `
DELETE FROM users WHERE id = :id;`)
}

// direct reports whether queries must go through the request's scoped
// handle rather than facade dispatch.
func (s *Store) direct() bool {
	return !s.db.Capabilities().Execute
}

// handle returns the connection the middleware scoped to this request.
func handle(ctx context.Context) (db.Querier, error) {
	q, ok := db.ConnFromContext(ctx)
	if !ok {
		return nil, db.ErrNoConn
	}
	return q, nil
}

func (s *Store) List(ctx context.Context) (us []User, err error) {
	ctx, span := o11y.StartSpan(ctx, "store: list users")
	defer o11y.End(span, &err)
	defer func() { span.AddField("count", len(us)) }()

	if s.direct() {
		q, err := handle(ctx)
		if err != nil {
			return nil, err
		}
		us = []User{}
		err = sqlx.SelectContext(ctx, q, &us,
			`SELECT id, name, email FROM users ORDER BY id`)
		return us, err
	}

	rows, err := s.db.Execute(ctx, "users:get_all", nil)
	if err != nil {
		return nil, err
	}
	us = make([]User, 0, len(rows))
	for _, r := range rows {
		us = append(us, fromRow(r))
	}
	return us, nil
}

func (s *Store) ByID(ctx context.Context, id int64) (u *User, err error) {
	ctx, span := o11y.StartSpan(ctx, "store: user by id")
	defer o11y.End(span, &err)
	span.AddField("id", id)

	if s.direct() {
		q, err := handle(ctx)
		if err != nil {
			return nil, err
		}
		user := User{}
		err = sqlx.GetContext(ctx, q, &user,
			`SELECT id, name, email FROM users WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return &user, nil
	}

	rows, err := s.db.Execute(ctx, "users:get_one", map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	user := fromRow(rows[0])
	return &user, nil
}

func (s *Store) Add(ctx context.Context, name, email string) (id int64, err error) {
	ctx, span := o11y.StartSpan(ctx, "store: add user")
	defer o11y.End(span, &err)
	span.AddField("name", name)

	if s.direct() {
		q, err := handle(ctx)
		if err != nil {
			return 0, err
		}
		res, err := q.ExecContext(ctx,
			`INSERT INTO users (name, email) VALUES (?, ?)`, name, email)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	rows, err := s.db.Execute(ctx, "users:insert", map[string]interface{}{
		"name":  name,
		"email": email,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("insert returned no id")
	}
	return asInt64(rows[0].Value("id"))
}

func (s *Store) Delete(ctx context.Context, id int64) (err error) {
	ctx, span := o11y.StartSpan(ctx, "store: delete user")
	defer o11y.End(span, &err)
	span.AddField("id", id)

	if s.direct() {
		q, err := handle(ctx)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	}

	err = s.db.ExecuteNoRows(ctx, "users:delete", map[string]interface{}{"id": id})
	if errors.Is(err, db.ErrNop) {
		return ErrNotFound
	}
	return err
}

// fromRow converts a generic row into a User. Drivers differ in the native
// types they hand back: text may arrive as string or []byte.
func fromRow(r db.Row) User {
	id, _ := asInt64(r.Value("id"))
	return User{
		ID:    id,
		Name:  asString(r.Value("name")),
		Email: asString(r.Value("email")),
	}
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("unexpected id type %T", v)
}
