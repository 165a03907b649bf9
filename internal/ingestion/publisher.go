package ingestion

import (
	"MutualLedger/internal/core"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/observability"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	subjectEventsPrefix = "mutual.ledger.events."
	SubjectReinsurance  = "mutual.ledger.reinsurance"
)

// jsPublisher is the slice of jetstream.JetStream the publisher needs.
type jsPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied commands and reinsurance triggers for
// downstream consumers. Delivery is best effort; the command log is the
// source of truth.
type OutboundPublisher struct {
	js        jsPublisher
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is one outbound message.
type PublishableEvent struct {
	Subject string `json:"-"`
	MsgID   string `json:"-"`

	Sequence  int64           `json:"sequence"`
	RequestID string          `json:"request_id,omitempty"`
	Kind      string          `json:"kind"`
	Result    json.RawMessage `json:"result,omitempty"`
	StateHash string          `json:"state_hash,omitempty"`
	Timestamp time.Time       `json:"timestamp"`

	Reinsurance *ReinsuranceNotice `json:"reinsurance,omitempty"`
}

// ReinsuranceNotice carries a utilization crossing in display units.
type ReinsuranceNotice struct {
	Utilization string `json:"utilization"`
	Threshold   string `json:"threshold"`
	Capital     string `json:"capital"`
	Exposure    string `json:"exposure"`
}

// EventsFromOutput converts one engine output into outbound messages: the
// applied command first, then one message per reinsurance trigger.
func EventsFromOutput(out core.Output) []PublishableEvent {
	env := out.Envelope
	kind := env.Kind.String()
	events := make([]PublishableEvent, 0, 1+len(out.Triggers))
	events = append(events, PublishableEvent{
		Subject:   subjectEventsPrefix + kind,
		MsgID:     fmt.Sprintf("cmd-%d", env.Sequence),
		Sequence:  env.Sequence,
		RequestID: env.RequestID,
		Kind:      kind,
		Result:    env.Result,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		Timestamp: env.Timestamp,
	})
	for i, t := range out.Triggers {
		events = append(events, PublishableEvent{
			Subject:   SubjectReinsurance,
			MsgID:     fmt.Sprintf("reins-%d-%d", env.Sequence, i),
			Sequence:  env.Sequence,
			Kind:      "ReinsuranceTriggered",
			Timestamp: t.At,
			Reinsurance: &ReinsuranceNotice{
				Utilization: fpmath.FormatRatio(t.Utilization),
				Threshold:   fpmath.FormatRatio(t.Threshold),
				Capital:     fpmath.FormatAmount(t.Capital, fpmath.AmountConfig),
				Exposure:    fpmath.FormatAmount(t.Exposure, fpmath.AmountConfig),
			},
		})
	}
	return events
}

func NewOutboundPublisher(js jsPublisher, inputChan <-chan PublishableEvent, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is done or the input channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, evt); err != nil {
				if op.metrics != nil {
					op.metrics.PublishErrors.WithLabelValues(evt.Subject).Inc()
				}
				op.logger.Warn().Err(err).
					Int64("sequence", evt.Sequence).
					Str("subject", evt.Subject).
					Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// MsgID lets JetStream drop republished duplicates after a restart.
	_, err = op.js.Publish(ctx, evt.Subject, data, jetstream.WithMsgID(evt.MsgID))
	return err
}
