package ingestion

import (
	"MutualLedger/internal/core"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	"MutualLedger/internal/observability"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Applier is the engine surface the loop drives.
type Applier interface {
	Apply(cmd event.Command) (core.Result, error)
}

// Loop parses raw NATS messages and applies them in arrival order.
//
// Ack policy: parsed and applied, duplicate, or deterministically rejected
// messages are acked. Unparseable messages are acked too since redelivery
// cannot fix them. Settlement failures are nak'd for redelivery.
type Loop struct {
	in      <-chan RawEvent
	engine  Applier
	seqs    *SequenceTracker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewLoop(in <-chan RawEvent, engine Applier, seqs *SequenceTracker, metrics *observability.Metrics, logger zerolog.Logger) *Loop {
	return &Loop{in: in, engine: engine, seqs: seqs, metrics: metrics, logger: logger}
}

func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-l.in:
			if !ok {
				return nil
			}
			l.handle(raw)
		}
	}
}

func (l *Loop) handle(raw RawEvent) {
	if l.metrics != nil {
		l.metrics.IngestReceived.WithLabelValues(raw.Consumer).Inc()
	}
	if l.seqs != nil && l.seqs.Observe(raw.Consumer, raw.StreamSeq) == SeqGap {
		l.logger.Warn().
			Str("consumer", raw.Consumer).
			Uint64("stream_seq", raw.StreamSeq).
			Msg("stream sequence gap")
	}

	cmd, err := ParseRawEvent(raw)
	if err != nil {
		kind, _ := ResolveKind(raw.Subject)
		if l.metrics != nil {
			l.metrics.IngestParseErrors.WithLabelValues(kind.String()).Inc()
		}
		l.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable message")
		ack(raw)
		return
	}

	res, err := l.engine.Apply(cmd)
	switch {
	case errors.Is(err, errs.ErrSettlementFailed):
		l.logger.Warn().Err(err).Str("request_id", cmd.RequestID()).Msg("settlement failed, requesting redelivery")
		nak(raw)
		return
	case err != nil:
		l.logger.Info().
			Str("request_id", cmd.RequestID()).
			Str("kind", cmd.Kind().String()).
			Str("reason", errs.Label(err)).
			Msg("command rejected")
	case res.Duplicate:
		l.logger.Debug().Str("request_id", cmd.RequestID()).Msg("duplicate ignored")
	default:
		l.logger.Debug().
			Int64("sequence", res.Sequence).
			Str("kind", cmd.Kind().String()).
			Msg("applied")
	}
	ack(raw)
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}
