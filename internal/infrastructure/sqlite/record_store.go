package sqlite

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/martijn/vaultkeep/internal/core/domain"
	"github.com/martijn/vaultkeep/internal/core/port"
)

// RecordStore keeps live collections in the collection_record table, one JSON
// document per row, ordered by position.
type RecordStore struct {
	db *DB
}

var (
	_ port.RecordStore = (*RecordStore)(nil)
	_ port.Pinger      = (*RecordStore)(nil)
)

func NewRecordStore(db *DB) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: sqlite: %v", domain.ErrAdapterUnavailable, err)
	}
	return nil
}

// ReadAll returns an empty list for a collection that has never been written.
func (s *RecordStore) ReadAll(ctx context.Context, collection string) ([]domain.Record, error) {
	query := `SELECT data FROM collection_record WHERE collection = ? ORDER BY position`
	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read collection %s: %v", domain.ErrStorage, collection, err)
	}
	defer rows.Close()

	records := []domain.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: failed to scan record in %s: %v", domain.ErrStorage, collection, err)
		}
		record, err := decodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode record in %s: %v", domain.ErrStorage, collection, err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating collection %s: %v", domain.ErrStorage, collection, err)
	}

	return records, nil
}

// ReplaceAll swaps the whole collection inside a single transaction.
func (s *RecordStore) ReplaceAll(ctx context.Context, collection string, records []domain.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM collection_record WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("%w: failed to clear collection %s: %v", domain.ErrStorage, collection, err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO collection_record (collection, position, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", domain.ErrStorage, err)
	}
	defer stmt.Close()

	for i, record := range records {
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("%w: failed to encode record %d of %s: %v", domain.ErrValidation, i, collection, err)
		}
		if _, err := stmt.ExecContext(ctx, collection, i, string(data)); err != nil {
			return fmt.Errorf("%w: failed to insert record %d of %s: %v", domain.ErrStorage, i, collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit collection %s: %v", domain.ErrStorage, collection, err)
	}
	return nil
}

func decodeRecord(data []byte) (domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var record domain.Record
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return record, nil
}
