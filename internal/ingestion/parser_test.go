package ingestion_test

import (
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	"MutualLedger/internal/ingestion"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rid = "550e8400-e29b-41d4-a716-446655440000"

func raw(subject, data string) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      []byte(data),
		Consumer:  "test",
		Timestamp: time.Now(),
	}
}

func TestResolveKind(t *testing.T) {
	k, err := ingestion.ResolveKind("mutual.commands.PurchasePolicy")
	require.NoError(t, err)
	assert.Equal(t, event.KindPurchasePolicy, k)

	k, err = ingestion.ResolveKind("mutual.oracle.attestations.flight-ua123")
	require.NoError(t, err)
	assert.Equal(t, event.KindSubmitAttestation, k)

	_, err = ingestion.ResolveKind("mutual.commands.Rebalance")
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)

	_, err = ingestion.ResolveKind("orders.fills")
	assert.ErrorIs(t, err, errs.ErrInvalidParameter)
}

func TestParseCommand_DecimalAmountAndDuration(t *testing.T) {
	cmd, err := ingestion.ParseCommand(event.KindPurchasePolicy, []byte(`{
		"request_id": "`+rid+`",
		"buyer": "alice",
		"category": "flight-delay",
		"amount_insured": "500.25",
		"term": "720h"
	}`))
	require.NoError(t, err)

	p, ok := cmd.(*event.PurchasePolicy)
	require.True(t, ok, "got %T", cmd)
	assert.Equal(t, rid, p.RequestID())
	assert.Equal(t, int64(500_250_000), p.AmountInsured)
	assert.Equal(t, 30*24*time.Hour, p.Term)
}

func TestParseCommand_NumericAmountPassesThrough(t *testing.T) {
	cmd, err := ingestion.ParseCommand(event.KindDeposit, []byte(`{"request_id":"`+rid+`","provider":"lp","amount":1000000}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), cmd.(*event.Deposit).Amount)
}

func TestParseCommand_NormalizesRequestID(t *testing.T) {
	cmd, err := ingestion.ParseCommand(event.KindEvaluateClaim, []byte(`{"request_id":"550E8400-E29B-41D4-A716-446655440000","claim_id":3}`))
	require.NoError(t, err)
	assert.Equal(t, rid, cmd.RequestID())
	assert.Equal(t, uint64(3), cmd.(*event.EvaluateClaim).ClaimID)
}

func TestParseCommand_Rejects(t *testing.T) {
	cases := []struct {
		name string
		kind event.Kind
		data string
		want error
	}{
		{"not json", event.KindDeposit, `{`, errs.ErrInvalidParameter},
		{"missing request id", event.KindDeposit, `{"provider":"lp","amount":1}`, errs.ErrInvalidParameter},
		{"request id not uuid", event.KindDeposit, `{"request_id":"abc","amount":1}`, errs.ErrInvalidParameter},
		{"bad amount", event.KindDeposit, `{"request_id":"` + rid + `","amount":"1.2.3"}`, errs.ErrInvalidAmount},
		{"bad term", event.KindRenewPolicy, `{"request_id":"` + rid + `","policy_id":1,"extra_term":"soon"}`, errs.ErrInvalidTerm},
		{"wrong field type", event.KindVote, `{"request_id":"` + rid + `","proposal_id":"one"}`, errs.ErrInvalidParameter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(tc.kind, []byte(tc.data))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseRawEvent_AttestationTopicFromSubject(t *testing.T) {
	hash := "0x" + "ab00000000000000000000000000000000000000000000000000000000000000"
	cmd, err := ingestion.ParseRawEvent(raw(
		"mutual.oracle.attestations.flight-ua123",
		`{"request_id":"`+rid+`","source":"chainlink","payload_hash":"`+hash+`","signature":"AAEC"}`,
	))
	require.NoError(t, err)

	att := cmd.(*event.SubmitAttestation)
	assert.Equal(t, "flight-ua123", att.Topic)
	assert.Equal(t, byte(0xab), att.PayloadHash[0])
	assert.Equal(t, []byte{0, 1, 2}, att.Signature)
}

func TestParseRawEvent_ExplicitTopicWins(t *testing.T) {
	hash := "ab00000000000000000000000000000000000000000000000000000000000000"
	cmd, err := ingestion.ParseRawEvent(raw(
		"mutual.oracle.attestations.other",
		`{"request_id":"`+rid+`","source":"s","topic":"crop-2025","payload_hash":"`+hash+`"}`,
	))
	require.NoError(t, err)
	assert.Equal(t, "crop-2025", cmd.(*event.SubmitAttestation).Topic)
}
