package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores engine snapshots and reads the command log back
// for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord is one stored snapshot. Data is the JSON-encoded engine
// state; this package does not interpret it.
type SnapshotRecord struct {
	Sequence  int64
	StateHash []byte
	Data      []byte
	CreatedAt time.Time
}

// format_version 1: JSON-encoded core.SnapshotState
const snapshotFormatVersion = 1

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Sequence is the next sequence the
// engine will assign; replay resumes there.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap SnapshotRecord) error {
	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, snap.Data, snap.StateHash, snapshotFormatVersion, len(snap.Data), snap.CreatedAt)
	return err
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil on a
// cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	var snap SnapshotRecord
	err := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash, data, created_at FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&snap.Sequence, &snap.StateHash, &snap.Data, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot as safe to restore from.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom reads up to limit log entries starting at fromSequence.
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, request_id, kind, payload, result, state_hash, prev_hash, applied_at
		FROM event_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.RequestID, &c.Kind, &c.Payload,
			&c.Result, &c.StateHash, &c.PrevHash, &c.AppliedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecentRequestIDs returns up to limit of the latest request ids, oldest
// first, for warming the dedup LRU.
func (sm *SnapshotManager) RecentRequestIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT request_id FROM (
			SELECT request_id, sequence FROM event_log.commands
			ORDER BY sequence DESC
			LIMIT $1
		) recent ORDER BY sequence ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, or -1 when the log
// is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.commands`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
