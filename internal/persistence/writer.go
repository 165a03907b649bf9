package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CommandRow is a row in event_log.commands.
type CommandRow struct {
	Sequence  int64
	RequestID string
	Kind      string
	Payload   []byte // JSON command
	Result    []byte // JSON result
	StateHash []byte
	PrevHash  []byte
	AppliedAt time.Time
}

// JournalRow is a row in event_log.journal.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   string
	Timestamp     int64
}

// RecordRow is the latest state of one entity.
type RecordRow struct {
	Kind     string
	ID       string
	Data     []byte
	Sequence int64
}

// TriggerRow is a reinsurance threshold crossing.
type TriggerRow struct {
	Sequence    int64
	Utilization int64
	Threshold   int64
	Capital     int64
	Exposure    int64
	RaisedAt    time.Time
}

// EventLogWriter builds multi-row INSERTs for the command log and the
// record tables. Every write is idempotent on its primary key.
type EventLogWriter struct{}

// WriteCommandBatch writes envelopes to event_log.commands.
func (w *EventLogWriter) WriteCommandBatch(ctx context.Context, ex execer, rows []CommandRow) error {
	if len(rows) == 0 {
		return nil
	}
	const cols = 8
	query, args := multiInsert(
		`INSERT INTO event_log.commands
		(sequence, request_id, kind, payload, result, state_hash, prev_hash, applied_at)
		VALUES `, cols, len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.Sequence, r.RequestID, r.Kind, r.Payload, r.Result, r.StateHash, r.PrevHash, r.AppliedAt}
		})
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex execer, rows []JournalRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := multiInsert(
		`INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp_us)
		VALUES `, 10, len(rows), func(i int) []any {
			j := rows[i]
			return []any{
				j.JournalID, j.BatchID, j.EventRef, j.Sequence,
				j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
				j.JournalType, j.Timestamp,
			}
		})
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteRecordBatch upserts entity records. Within one statement a key may
// appear only once, so rows are collapsed to the latest per key first.
func (w *EventLogWriter) WriteRecordBatch(ctx context.Context, ex execer, rows []RecordRow) error {
	rows = latestRecords(rows)
	if len(rows) == 0 {
		return nil
	}
	query, args := multiInsert(
		`INSERT INTO records.entities (kind, id, data, sequence) VALUES `, 4, len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.Kind, r.ID, r.Data, r.Sequence}
		})
	query += ` ON CONFLICT (kind, id) DO UPDATE
		SET data = EXCLUDED.data, sequence = EXCLUDED.sequence, updated_at = NOW()
		WHERE records.entities.sequence <= EXCLUDED.sequence`

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteTriggerBatch writes reinsurance triggers.
func (w *EventLogWriter) WriteTriggerBatch(ctx context.Context, ex execer, rows []TriggerRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := multiInsert(
		`INSERT INTO records.reinsurance_triggers
		(sequence, utilization, threshold, capital, exposure, raised_at)
		VALUES `, 6, len(rows), func(i int) []any {
			t := rows[i]
			return []any{t.Sequence, t.Utilization, t.Threshold, t.Capital, t.Exposure, t.RaisedAt}
		})
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// multiInsert appends n placeholder tuples of width cols to prefix.
func multiInsert(prefix string, cols, n int, row func(i int) []any) (string, []any) {
	values := make([]string, 0, n)
	args := make([]any, 0, n*cols)

	for i := 0; i < n; i++ {
		base := i * cols
		ph := make([]string, cols)
		for c := range ph {
			ph[c] = fmt.Sprintf("$%d", base+c+1)
		}
		values = append(values, "("+strings.Join(ph, ", ")+")")
		args = append(args, row(i)...)
	}
	return prefix + strings.Join(values, ", "), args
}

// latestRecords keeps the highest-sequence row per (kind, id), preserving
// first-seen order.
func latestRecords(rows []RecordRow) []RecordRow {
	type key struct{ kind, id string }
	idx := make(map[key]int, len(rows))
	out := make([]RecordRow, 0, len(rows))
	for _, r := range rows {
		k := key{r.Kind, r.ID}
		if i, ok := idx[k]; ok {
			if r.Sequence >= out[i].Sequence {
				out[i] = r
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
