// Package store implements the Persistence Layer (§4.1): the only code
// in the module allowed to issue SQL. Every write that must appear
// atomically to the rest of the system — most importantly appending a
// call state transition alongside its Event Bus row — runs inside a
// single pgx transaction.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsy-voice/tarsy-voice/pkg/database"
)

// Store is the single entry point onto the Postgres schema. All
// higher-level packages (call, digit, notify, delivery, events, api)
// depend on a *Store rather than touching pgx directly.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected database.Client.
func New(client *database.Client) *Store {
	return &Store{pool: client.Pool}
}

// db is satisfied by both *pgxpool.Pool and pgx.Tx, letting the
// row-scanning helpers in the other files here run either standalone or
// inside a transaction without duplicating their SQL.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise. Grounded on the teacher's persistAndNotify
// transaction wrapper (pkg/events/publisher.go in the pre-transform tree).
func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
