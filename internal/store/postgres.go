package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

const pgOpTimeout = 5 * time.Second

const pgSchema = `
create table if not exists extension_storage (
    key        text primary key,
    value      jsonb not null,
    updated_at timestamptz not null default now()
)`

// PGSurface stores items in a Postgres table, one row per key.
type PGSurface struct {
	callbacks
	DB    *sql.DB
	quota int
}

// OpenPG connects with the pgx driver and makes sure the table exists.
func OpenPG(ctx context.Context, dsn string, quota int) (*PGSurface, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create extension_storage: %w", err)
	}
	return NewPGSurface(db, quota), nil
}

// NewPGSurface wraps an already opened database.
func NewPGSurface(db *sql.DB, quota int) *PGSurface {
	return &PGSurface{DB: db, quota: quota}
}

func (s *PGSurface) Close() error { return s.DB.Close() }

func (s *PGSurface) Get(key string, cb func(items map[string]json.RawMessage)) {
	var out map[string]json.RawMessage
	s.run(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
		defer cancel()

		var value []byte
		err := s.DB.QueryRowContext(ctx, `select value from extension_storage where key = $1`, key).Scan(&value)
		out = map[string]json.RawMessage{}
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		out[key] = value
		return nil
	}, func() { cb(out) })
}

func (s *PGSurface) Set(items map[string]json.RawMessage, cb func()) {
	s.run(func() error {
		if err := checkQuota(items, s.quota); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
		defer cancel()

		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		const q = `
insert into extension_storage (key, value, updated_at)
values ($1, $2, now())
on conflict (key) do update set value = excluded.value, updated_at = excluded.updated_at`
		for k, v := range items {
			if _, err := tx.ExecContext(ctx, q, k, []byte(v)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, cb)
}

func (s *PGSurface) Remove(key string, cb func()) {
	s.run(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), pgOpTimeout)
		defer cancel()
		_, err := s.DB.ExecContext(ctx, `delete from extension_storage where key = $1`, key)
		return err
	}, cb)
}
