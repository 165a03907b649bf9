package persistence

import (
	"MutualLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CoreOutput mirrors core.Output in row form to avoid an import cycle.
// cmd/mutualledger bridges between the two.
type CoreOutput struct {
	Command  CommandRow
	Journals []JournalRow
	Records  []RecordRow
	Triggers []TriggerRow
}

// Batch is what one flush writes.
type Batch struct {
	Commands []CommandRow
	Journals []JournalRow
	Records  []RecordRow
	Triggers []TriggerRow
}

func (b *Batch) add(o CoreOutput) {
	b.Commands = append(b.Commands, o.Command)
	b.Journals = append(b.Journals, o.Journals...)
	b.Records = append(b.Records, o.Records...)
	b.Triggers = append(b.Triggers, o.Triggers...)
}

func (b *Batch) reset() {
	b.Commands = b.Commands[:0]
	b.Journals = b.Journals[:0]
	b.Records = b.Records[:0]
	b.Triggers = b.Triggers[:0]
}

// Sink writes one batch atomically.
type Sink interface {
	WriteBatch(ctx context.Context, b *Batch) error
}

// PersistenceWorker drains the persist channel and batch-writes to a Sink.
// The engine sends on that channel with a blocking send, so if this worker
// falls behind the engine stalls and no command is lost.
type PersistenceWorker struct {
	sink         Sink
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	sink Sink,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		sink:         sink,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Returns when ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &Batch{}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch.Commands) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("commands", len(batch.Commands)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.Commands) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("commands", len(batch.Commands)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch.add(output)
			if len(batch.Commands) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.Commands) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. The worker never drops a batch.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *Batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("commands", len(batch.Commands)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				// One last try so shutdown does not lose the batch.
				if err := pw.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *Batch) error {
	start := time.Now()

	if err := pw.sink.WriteBatch(ctx, batch); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.Commands)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.Commands)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.Journals)))
		pw.metrics.PersistRecordsWritten.Add(float64(len(batch.Records)))
		pw.metrics.PersistLastSequence.Set(float64(batch.Commands[len(batch.Commands)-1].Sequence))
	}
	return nil
}

// === Sinks ===

// PostgresSink writes a batch in one transaction.
type PostgresSink struct {
	db      *sql.DB
	writer  EventLogWriter
	metrics *observability.Metrics
}

func NewPostgresSink(db *sql.DB, metrics *observability.Metrics) *PostgresSink {
	return &PostgresSink{db: db, metrics: metrics}
}

func (s *PostgresSink) WriteBatch(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := s.writer.WriteCommandBatch(ctx, tx, b.Commands); err != nil {
		s.countError("write_commands")
		return err
	}
	if err := s.writer.WriteJournalBatch(ctx, tx, b.Journals); err != nil {
		s.countError("write_journals")
		return err
	}
	if err := s.writer.WriteRecordBatch(ctx, tx, b.Records); err != nil {
		s.countError("write_records")
		return err
	}
	if err := s.writer.WriteTriggerBatch(ctx, tx, b.Triggers); err != nil {
		s.countError("write_triggers")
		return err
	}

	if err := tx.Commit(); err != nil {
		s.countError("tx_commit")
		return err
	}
	return nil
}

func (s *PostgresSink) countError(kind string) {
	if s.metrics != nil {
		s.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}

// MemorySink keeps the command log in memory and writes records through
// to a MemoryRecordStore.
type MemorySink struct {
	mu       sync.Mutex
	records  *MemoryRecordStore
	commands []CommandRow
	journals int
	triggers []TriggerRow
}

func NewMemorySink(records *MemoryRecordStore) *MemorySink {
	return &MemorySink{records: records}
}

func (s *MemorySink) WriteBatch(ctx context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range b.Records {
		if err := s.records.Put(ctx, r); err != nil {
			return err
		}
	}
	s.commands = append(s.commands, b.Commands...)
	s.journals += len(b.Journals)
	s.triggers = append(s.triggers, b.Triggers...)
	return nil
}

// Commands returns a copy of everything written so far.
func (s *MemorySink) Commands() []CommandRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CommandRow(nil), s.commands...)
}

func (s *MemorySink) JournalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journals
}

func (s *MemorySink) Triggers() []TriggerRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TriggerRow(nil), s.triggers...)
}
