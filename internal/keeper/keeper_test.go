package keeper_test

import (
	"MutualLedger/internal/capability"
	"MutualLedger/internal/core"
	"MutualLedger/internal/event"
	"MutualLedger/internal/ingestion"
	"MutualLedger/internal/keeper"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/payout"
	"MutualLedger/internal/policy"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unit = 1_000_000
	day  = 24 * time.Hour
)

type fixture struct {
	engine *core.Engine
	clock  *capability.ManualClock
	keeper *keeper.Keeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	wallets := capability.NewWallets()
	wallets.Mint("lp", 1_000*unit)
	wallets.Mint("buyer", 100*unit)
	clock := capability.NewManualClock(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))

	eng, err := core.NewEngine(core.Config{
		Admin:    "admin",
		Settler:  wallets,
		Verifier: capability.NewEd25519Verifier(),
		Clock:    clock,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	return &fixture{
		engine: eng,
		clock:  clock,
		keeper: keeper.New(eng, keeper.EngineSubmitter{Engine: eng}, clock, time.Minute, zerolog.Nop()),
	}
}

func (f *fixture) apply(t *testing.T, cmd event.Command) core.Result {
	t.Helper()
	res, err := f.engine.Apply(cmd)
	require.NoError(t, err, "%s", cmd.Kind())
	return res
}

func hdr() event.Header { return event.Header{ID: uuid.NewString()} }

func (f *fixture) seed(t *testing.T) policy.Policy {
	f.apply(t, &event.Deposit{Header: hdr(), Provider: "lp", Amount: 1_000 * unit})
	res := f.apply(t, &event.PurchasePolicy{
		Header: hdr(), Buyer: "buyer", Category: "flight-delay", AmountInsured: 500 * unit, Term: 30 * day,
	})
	return res.Value.(policy.Policy)
}

func TestSweep_ExpiresAfterGrace(t *testing.T) {
	f := newFixture(t)
	pol := f.seed(t)
	ctx := context.Background()

	f.clock.Advance(30 * day)
	assert.Equal(t, keeper.SweepResult{}, f.keeper.Sweep(ctx), "still inside grace")

	f.clock.Advance(3*day + time.Second)
	assert.Equal(t, 1, f.keeper.Sweep(ctx).Expired)

	f.engine.Read(func(v *core.View) {
		p, err := v.Registry.Get(pol.ID)
		require.NoError(t, err)
		assert.Equal(t, policy.StatusExpired, p.Status)
		assert.Zero(t, v.Pool.Exposure())
	})
	assert.Equal(t, keeper.SweepResult{}, f.keeper.Sweep(ctx))
}

func TestSweep_EvaluatesClaimOnceVerified(t *testing.T) {
	f := newFixture(t)
	pol := f.seed(t)
	ctx := context.Background()

	keys := map[ledger.Principal]ed25519.PrivateKey{}
	for _, src := range []ledger.Principal{"oracle-a", "oracle-b"} {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		keys[src] = priv
		f.apply(t, &event.RegisterSource{Header: hdr(), Caller: "admin", Source: src, PublicKey: pub})
	}

	res := f.apply(t, &event.SubmitClaim{Header: hdr(), PolicyID: pol.ID, Claimant: "buyer", Amount: 200 * unit, EvidenceTopic: "ua-1"})
	claimID := res.Value.(payout.Claim).ID

	assert.Zero(t, f.keeper.Sweep(ctx).Evaluated, "no verdict yet")

	var payload oracle.Hash
	payload[0] = 1
	for src, key := range keys {
		f.apply(t, &event.SubmitAttestation{
			Header: hdr(), Source: src, Topic: "ua-1", PayloadHash: payload,
			Signature: ed25519.Sign(key, oracle.Digest("ua-1", payload)),
		})
	}

	assert.Equal(t, 1, f.keeper.Sweep(ctx).Evaluated)
	f.engine.Read(func(v *core.View) {
		c, err := v.Payout.Get(claimID)
		require.NoError(t, err)
		assert.Equal(t, payout.StatusApproved, c.Status)
	})
	assert.Zero(t, f.keeper.Sweep(ctx).Evaluated)
}

type capturePublisher struct {
	subject string
	data    []byte
}

func (c *capturePublisher) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	c.subject, c.data = subject, data
	return &jetstream.PubAck{}, nil
}

func TestNATSSubmitter_RoundTripsThroughParser(t *testing.T) {
	pub := &capturePublisher{}
	cmd := &event.ExpirePolicy{Header: event.Header{ID: uuid.NewString()}, PolicyID: 7}
	require.NoError(t, keeper.NATSSubmitter{JS: pub}.Submit(context.Background(), cmd))
	assert.Equal(t, "mutual.commands.ExpirePolicy", pub.subject)

	parsed, err := ingestion.ParseRawEvent(ingestion.RawEvent{Subject: pub.subject, Data: pub.data})
	require.NoError(t, err)
	assert.Equal(t, cmd, parsed)
}
