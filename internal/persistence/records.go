package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrRecordNotFound is returned by RecordStore.Get for a missing key.
var ErrRecordNotFound = errors.New("record not found")

// RecordStore is the keyed entity store behind the query API. Writes are
// last-writer-wins by sequence.
type RecordStore interface {
	Put(ctx context.Context, row RecordRow) error
	Get(ctx context.Context, kind, id string) ([]byte, error)
	// Iterate visits every record of kind in id order. A non-nil error from
	// fn stops the iteration and is returned.
	Iterate(ctx context.Context, kind string, fn func(id string, data []byte) error) error
}

// === Postgres ===

type PostgresRecordStore struct {
	db     *sql.DB
	writer EventLogWriter
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Put(ctx context.Context, row RecordRow) error {
	return s.writer.WriteRecordBatch(ctx, s.db, []RecordRow{row})
}

func (s *PostgresRecordStore) Get(ctx context.Context, kind, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records.entities WHERE kind = $1 AND id = $2`, kind, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	return data, nil
}

func (s *PostgresRecordStore) Iterate(ctx context.Context, kind string, fn func(id string, data []byte) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM records.entities WHERE kind = $1 ORDER BY id`, kind)
	if err != nil {
		return fmt.Errorf("iterate %s: %w", kind, err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return err
		}
		if err := fn(id, data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// === In-memory ===

// MemoryRecordStore backs the dev binary when no database is configured,
// and tests.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]map[string]RecordRow // kind -> id -> row
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]map[string]RecordRow)}
}

func (s *MemoryRecordStore) Put(_ context.Context, row RecordRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.records[row.Kind]
	if !ok {
		byID = make(map[string]RecordRow)
		s.records[row.Kind] = byID
	}
	if cur, ok := byID[row.ID]; ok && cur.Sequence > row.Sequence {
		return nil
	}
	row.Data = append([]byte(nil), row.Data...)
	byID[row.ID] = row
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, kind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.records[kind][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, kind, id)
	}
	return row.Data, nil
}

func (s *MemoryRecordStore) Iterate(ctx context.Context, kind string, fn func(id string, data []byte) error) error {
	s.mu.RLock()
	byID := s.records[kind]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	rows := make(map[string][]byte, len(byID))
	for _, id := range ids {
		rows[id] = byID[id].Data
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(id, rows[id]); err != nil {
			return err
		}
	}
	return nil
}
