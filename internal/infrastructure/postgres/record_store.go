// Package postgres implements the live record store on PostgreSQL, one jsonb
// document per row.
package postgres

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

const schema = `
CREATE TABLE IF NOT EXISTS vaultkeep_records (
	collection TEXT NOT NULL,
	position INTEGER NOT NULL,
	data JSONB NOT NULL,
	PRIMARY KEY (collection, position)
)`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

type RecordStore struct {
	db DB
}

var (
	_ port.RecordStore = (*RecordStore)(nil)
	_ port.Pinger      = (*RecordStore)(nil)
)

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse postgres dsn: %v", domain.ErrValidation, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: create postgres pool: %v", domain.ErrAdapterUnavailable, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", domain.ErrAdapterUnavailable, err)
	}

	return pool, nil
}

// NewRecordStore creates the records table if it does not exist yet.
func NewRecordStore(ctx context.Context, db DB) (*RecordStore, error) {
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create records table: %w", classify(err))
	}
	return &RecordStore{db: db}, nil
}

func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping postgres: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

func (s *RecordStore) ReadAll(ctx context.Context, collection string) ([]domain.Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data::text FROM vaultkeep_records WHERE collection = $1 ORDER BY position`, collection)
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", collection, classify(err))
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan record in %s: %w", collection, classify(err))
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(data)))
		dec.UseNumber()
		var record domain.Record
		if err := dec.Decode(&record); err != nil {
			return nil, fmt.Errorf("%w: decode record in %s: %v", domain.ErrStorage, collection, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collection %s: %w", collection, classify(err))
	}

	return records, nil
}

// ReplaceAll deletes and reinserts the collection inside one transaction.
func (s *RecordStore) ReplaceAll(ctx context.Context, collection string, records []domain.Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace of %s: %w", collection, classify(err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM vaultkeep_records WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("clear collection %s: %w", collection, classify(err))
	}

	batch := &pgx.Batch{}
	for i, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("%w: encode record %d of %s: %v", domain.ErrValidation, i, collection, err)
		}
		batch.Queue(`INSERT INTO vaultkeep_records (collection, position, data) VALUES ($1, $2, $3::jsonb)`,
			collection, i, string(data))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert records of %s: %w", collection, classify(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit collection %s: %w", collection, classify(err))
	}
	return nil
}

// classify separates an unreachable server from ordinary statement failures.
func classify(err error) error {
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", domain.ErrAdapterUnavailable, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrStorage, err)
}
