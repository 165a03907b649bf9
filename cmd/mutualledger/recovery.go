package main

import (
	"MutualLedger/internal/core"
	"MutualLedger/internal/event"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/observability"
	"MutualLedger/internal/persistence"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

// commandLog is the read side of persistence used during recovery.
type commandLog interface {
	LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.CommandRow, error)
}

type snapshotStore interface {
	commandLog
	SaveSnapshot(ctx context.Context, snap persistence.SnapshotRecord) error
	MarkVerified(ctx context.Context, sequence int64) error
}

// envelopeFromRow rebuilds the envelope and command a log row was written
// from.
func envelopeFromRow(row persistence.CommandRow) (*event.Envelope, event.Command, error) {
	kind, ok := event.ParseKind(row.Kind)
	if !ok {
		return nil, nil, fmt.Errorf("sequence %d: unknown kind %q", row.Sequence, row.Kind)
	}
	cmd, err := event.Decode(kind, row.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("sequence %d: %w", row.Sequence, err)
	}
	if len(row.StateHash) != 32 || len(row.PrevHash) != 32 {
		return nil, nil, fmt.Errorf("sequence %d: malformed hash", row.Sequence)
	}

	env := &event.Envelope{
		Sequence:  row.Sequence,
		RequestID: row.RequestID,
		Kind:      kind,
		Timestamp: row.AppliedAt,
		Payload:   row.Payload,
		Result:    row.Result,
	}
	copy(env.StateHash[:], row.StateHash)
	copy(env.PrevHash[:], row.PrevHash)
	return env, cmd, nil
}

// replayFromLog re-applies every logged command from the engine's current
// sequence to the head of the log. Each replayed state hash must match the
// logged one.
func replayFromLog(ctx context.Context, log commandLog, engine *core.Engine, logger zerolog.Logger) (int, error) {
	replayed := 0
	for {
		rows, err := log.LoadCommandsFrom(ctx, engine.Sequence(), replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load commands: %w", err)
		}
		for _, row := range rows {
			env, cmd, err := envelopeFromRow(row)
			if err != nil {
				return replayed, err
			}
			if env.PrevHash != engine.StateHash() {
				return replayed, fmt.Errorf("sequence %d: hash chain broken", row.Sequence)
			}
			if err := engine.Replay(env, cmd); err != nil {
				return replayed, err
			}
			replayed++
		}
		if len(rows) < replayPageSize {
			break
		}
		logger.Info().Int("replayed", replayed).Int64("sequence", engine.Sequence()).Msg("replay progress")
	}
	return replayed, nil
}

// takeSnapshot saves the engine state, then marks it verified once a
// scratch engine accepts it.
func takeSnapshot(ctx context.Context, engine *core.Engine, store snapshotStore, metrics *observability.Metrics) error {
	start := time.Now()

	state := engine.CreateSnapshotState()
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := store.SaveSnapshot(ctx, persistence.SnapshotRecord{
		Sequence:  state.Sequence,
		StateHash: append([]byte(nil), state.StateHash[:]...),
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := verifySnapshot(engine, data); err != nil {
		return err
	}
	if err := store.MarkVerified(ctx, state.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(len(data)))
		metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	return nil
}

// verifySnapshot restores data into a scratch engine, which re-runs the
// ledger and exposure invariants over the decoded state.
func verifySnapshot(engine *core.Engine, data []byte) error {
	var state core.SnapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	scratch, err := core.NewEngine(core.Config{
		Admin:    "verifier",
		Settler:  noSettle{},
		Verifier: noVerify{},
		Clock:    frozenClock{},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		return err
	}
	if err := scratch.RestoreFromSnapshot(&state); err != nil {
		return fmt.Errorf("verify snapshot: %w", err)
	}
	if scratch.Sequence() > engine.Sequence() {
		return fmt.Errorf("verify snapshot: sequence %d ahead of engine %d", scratch.Sequence(), engine.Sequence())
	}
	return nil
}

type noSettle struct{}

func (noSettle) Settle(_, _ ledger.Principal, _ int64) error {
	return fmt.Errorf("scratch engine cannot settle")
}

type noVerify struct{}

func (noVerify) Verify(ledger.Principal, []byte, []byte) bool { return false }

type frozenClock struct{}

func (frozenClock) Now() time.Time { return time.Unix(0, 0).UTC() }
