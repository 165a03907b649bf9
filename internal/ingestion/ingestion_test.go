package ingestion_test

import (
	"MutualLedger/internal/core"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	"MutualLedger/internal/ingestion"
	"MutualLedger/internal/observability"
	"MutualLedger/internal/pool"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceTracker(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	st := ingestion.NewSequenceTracker(m)

	assert.Equal(t, ingestion.SeqUnknown, st.Observe("c", 0))
	assert.Equal(t, ingestion.SeqInOrder, st.Observe("c", 5))
	assert.Equal(t, ingestion.SeqInOrder, st.Observe("c", 6))
	assert.Equal(t, ingestion.SeqStale, st.Observe("c", 6))
	assert.Equal(t, ingestion.SeqGap, st.Observe("c", 9))
	assert.Equal(t, ingestion.SeqInOrder, st.Observe("other", 1))

	assert.Equal(t, uint64(9), st.Last("c"))
	assert.Equal(t, int64(1), st.Gaps("c"))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.IngestSequenceGaps.WithLabelValues("c")))
}

type fakeApplier struct {
	applied []event.Command
	err     error
	dup     bool
}

func (f *fakeApplier) Apply(cmd event.Command) (core.Result, error) {
	f.applied = append(f.applied, cmd)
	if f.err != nil {
		return core.Result{}, f.err
	}
	return core.Result{Sequence: int64(len(f.applied) - 1), Duplicate: f.dup}, nil
}

type ackRecorder struct{ acks, naks int }

func (a *ackRecorder) wrap(e ingestion.RawEvent) ingestion.RawEvent {
	e.AckFunc = func() { a.acks++ }
	e.NakFunc = func() { a.naks++ }
	return e
}

func runLoop(t *testing.T, app ingestion.Applier, m *observability.Metrics, events ...ingestion.RawEvent) {
	t.Helper()
	in := make(chan ingestion.RawEvent, len(events))
	for _, e := range events {
		in <- e
	}
	close(in)
	l := ingestion.NewLoop(in, app, ingestion.NewSequenceTracker(m), m, zerolog.Nop())
	require.NoError(t, l.Run(context.Background()))
}

func TestLoop_AppliesAndAcks(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	app := &fakeApplier{}
	rec := &ackRecorder{}

	deposit := raw("mutual.commands.Deposit", `{"request_id":"`+rid+`","provider":"lp","amount":"10"}`)
	deposit.StreamSeq = 1
	runLoop(t, app, m, rec.wrap(deposit))

	require.Len(t, app.applied, 1)
	assert.Equal(t, int64(10_000_000), app.applied[0].(*event.Deposit).Amount)
	assert.Equal(t, 1, rec.acks)
	assert.Equal(t, 0, rec.naks)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.IngestReceived.WithLabelValues("test")))
}

func TestLoop_UnparseableIsAckedAndCounted(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	app := &fakeApplier{}
	rec := &ackRecorder{}

	runLoop(t, app, m, rec.wrap(raw("mutual.commands.Deposit", `{"amount":1}`)))

	assert.Empty(t, app.applied)
	assert.Equal(t, 1, rec.acks)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.IngestParseErrors.WithLabelValues("Deposit")))
}

func TestLoop_SettlementFailureIsNakd(t *testing.T) {
	app := &fakeApplier{err: fmt.Errorf("withdraw: %w", errs.ErrSettlementFailed)}
	rec := &ackRecorder{}

	runLoop(t, app, nil, rec.wrap(raw("mutual.commands.Withdraw", `{"request_id":"`+rid+`","provider":"lp","amount":1}`)))

	assert.Equal(t, 0, rec.acks)
	assert.Equal(t, 1, rec.naks)
}

func TestLoop_RejectionIsAcked(t *testing.T) {
	app := &fakeApplier{err: errs.ErrCapacityExceeded}
	rec := &ackRecorder{}

	runLoop(t, app, nil, rec.wrap(raw("mutual.commands.Withdraw", `{"request_id":"`+rid+`","provider":"lp","amount":1}`)))

	assert.Equal(t, 1, rec.acks)
	assert.Equal(t, 0, rec.naks)
}

type fakeJS struct {
	subjects []string
	optCount []int
	bodies   [][]byte
	err      error
}

func (f *fakeJS) Publish(_ context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	f.optCount = append(f.optCount, len(opts))
	return &jetstream.PubAck{}, nil
}

func sampleOutput() core.Output {
	env := &event.Envelope{
		Sequence:  7,
		RequestID: rid,
		Kind:      event.KindPurchasePolicy,
		Timestamp: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Result:    []byte(`{"policy_id":1}`),
	}
	env.StateHash[0] = 0xff
	return core.Output{
		Envelope: env,
		Triggers: []pool.ReinsuranceTrigger{{
			Utilization: 810_000,
			Threshold:   800_000,
			Capital:     1_000_000_000,
			Exposure:    810_000_000,
			At:          env.Timestamp,
		}},
	}
}

func TestEventsFromOutput(t *testing.T) {
	events := ingestion.EventsFromOutput(sampleOutput())
	require.Len(t, events, 2)

	assert.Equal(t, "mutual.ledger.events.PurchasePolicy", events[0].Subject)
	assert.Equal(t, "cmd-7", events[0].MsgID)
	assert.Equal(t, "ff"+fmt.Sprintf("%062d", 0), events[0].StateHash)

	assert.Equal(t, ingestion.SubjectReinsurance, events[1].Subject)
	require.NotNil(t, events[1].Reinsurance)
	assert.Equal(t, "1000.000000", events[1].Reinsurance.Capital)
}

func TestPublisher_PublishesAndCountsFailures(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	js := &fakeJS{}
	in := make(chan ingestion.PublishableEvent, 4)
	for _, e := range ingestion.EventsFromOutput(sampleOutput()) {
		in <- e
	}
	close(in)

	require.NoError(t, ingestion.NewOutboundPublisher(js, in, m, zerolog.Nop()).Run(context.Background()))
	require.Equal(t, []string{"mutual.ledger.events.PurchasePolicy", ingestion.SubjectReinsurance}, js.subjects)
	assert.Equal(t, 1, js.optCount[0], "message id set for dedup")

	var body map[string]any
	require.NoError(t, json.Unmarshal(js.bodies[0], &body))
	assert.Equal(t, "PurchasePolicy", body["kind"])
	assert.EqualValues(t, 7, body["sequence"])

	failing := &fakeJS{err: fmt.Errorf("no responders")}
	in2 := make(chan ingestion.PublishableEvent, 1)
	in2 <- ingestion.EventsFromOutput(sampleOutput())[0]
	close(in2)
	require.NoError(t, ingestion.NewOutboundPublisher(failing, in2, m, zerolog.Nop()).Run(context.Background()))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.PublishErrors.WithLabelValues("mutual.ledger.events.PurchasePolicy")))
}
