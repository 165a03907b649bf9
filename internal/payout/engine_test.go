package payout_test

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/params"
	"MutualLedger/internal/payout"
	"MutualLedger/internal/policy"
	"MutualLedger/internal/pool"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	unit = 1_000_000
	day  = 24 * time.Hour
)

type verdicts map[string]oracle.Status

func (v verdicts) Verdict(topic string) oracle.Verdict {
	return oracle.Verdict{Topic: topic, Status: v[topic]}
}

type fixture struct {
	engine   *payout.Engine
	registry *policy.Registry
	pool     *pool.Pool
	store    *ledger.Store
	wallets  *capability.Wallets
	clock    *capability.ManualClock
	verdicts verdicts
	policyID uint64
}

// newFixture deposits 1,000, sells a 500 policy to "buyer" and withdraws 400,
// leaving capital 600 and exposure 500.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewStore()
	store.Begin("test", 1, 0)
	wallets := capability.NewWallets()
	clock := capability.NewManualClock(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))
	pm := params.NewDefaultManager()
	acl := access.NewDefaultTable("admin")

	p := pool.New(store, pm, acl, wallets, clock, zerolog.Nop())
	reg := policy.NewRegistry(p, pm, acl, clock, zerolog.Nop())
	v := verdicts{}
	eng := payout.NewEngine(reg, p, v, clock, zerolog.Nop())

	wallets.Mint("lp", 1_000*unit)
	wallets.Mint("buyer", 50*unit)
	_, err := p.Deposit("lp", 1_000*unit)
	require.NoError(t, err)
	pol, err := reg.Purchase("buyer", "flight-delay", 500*unit, 30*day)
	require.NoError(t, err)
	_, err = p.Withdraw("lp", 400*unit)
	require.NoError(t, err)

	return &fixture{
		engine: eng, registry: reg, pool: p, store: store,
		wallets: wallets, clock: clock, verdicts: v, policyID: pol.ID,
	}
}

func TestClaim_PendingApprovedPaid(t *testing.T) {
	f := newFixture(t)

	c, err := f.engine.SubmitClaim(f.policyID, "buyer", 500*unit, "flight-42")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPending, c.Status)

	// No verdict yet: stays pending.
	c, err = f.engine.Evaluate(c.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPending, c.Status)
	assert.Equal(t, []uint64{c.ID}, f.engine.PendingClaims())

	f.verdicts["flight-42"] = oracle.StatusVerified
	c, err = f.engine.Evaluate(c.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusApproved, c.Status)

	c, err = f.engine.Execute(c.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPaid, c.Status)

	st := f.pool.State()
	assert.Equal(t, int64(100*unit), st.Capital)
	assert.Equal(t, int64(0), st.Exposure)
	assert.Equal(t, int64(500*unit), f.wallets.Balance("buyer"))

	pol, err := f.registry.Get(f.policyID)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusClaimed, pol.Status)

	_, err = f.engine.Execute(c.ID)
	assert.ErrorIs(t, err, errs.ErrAlreadyExecuted)

	require.NoError(t, f.engine.Validate())
	require.NoError(t, f.registry.Validate())
	require.NoError(t, f.store.Validator().ValidateAll())
}

func TestSubmitClaim_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.SubmitClaim(f.policyID, "stranger", 1, "t")
	assert.ErrorIs(t, err, errs.ErrNotPolicyHolder)

	_, err = f.engine.SubmitClaim(f.policyID, "buyer", 0, "t")
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = f.engine.SubmitClaim(99, "buyer", 1, "t")
	assert.ErrorIs(t, err, errs.ErrPolicyNotFound)

	f.clock.Advance(40 * day)
	require.NoError(t, f.registry.Expire(f.policyID))
	_, err = f.engine.SubmitClaim(f.policyID, "buyer", 1, "t")
	assert.ErrorIs(t, err, errs.ErrPolicyNotActive)
}

func TestClaim_LapsedPolicyBeforeExpire(t *testing.T) {
	f := newFixture(t)
	f.verdicts["late"] = oracle.StatusVerified

	// Submitted inside the term, verified only after it ended.
	early, err := f.engine.SubmitClaim(f.policyID, "buyer", 100*unit, "late")
	require.NoError(t, err)

	// The last instant of the term is still covered.
	f.clock.Advance(30 * day)
	_, err = f.engine.SubmitClaim(f.policyID, "buyer", 1, "edge")
	require.NoError(t, err)

	f.clock.Advance(60 * day)
	pol, err := f.registry.Get(f.policyID)
	require.NoError(t, err)
	require.Equal(t, policy.StatusActive, pol.Status, "nobody has expired it yet")

	_, err = f.engine.SubmitClaim(f.policyID, "buyer", 500*unit, "late")
	assert.ErrorIs(t, err, errs.ErrPolicyNotActive)

	c, err := f.engine.Evaluate(early.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusRejected, c.Status)
	assert.Equal(t, payout.ReasonPolicyInactive, c.RejectReason)

	assert.ErrorIs(t, f.registry.ReservePayout(access.Payout, f.policyID, 1), errs.ErrPolicyNotActive)

	st := f.pool.State()
	assert.Equal(t, int64(600*unit), st.Capital)
	assert.Equal(t, int64(500*unit), st.Exposure)
	assert.Zero(t, f.wallets.Balance("buyer"))
	require.NoError(t, f.engine.Validate())
}

func TestEvaluate_CapsAtClaimantShare(t *testing.T) {
	f := newFixture(t)
	f.verdicts["t"] = oracle.StatusVerified
	require.NoError(t, f.registry.Transfer("buyer", f.policyID, "buyer", "friend", 100*unit))

	evaluate := func(holder ledger.Principal, amount int64) payout.Claim {
		t.Helper()
		c, err := f.engine.SubmitClaim(f.policyID, holder, amount, "t")
		require.NoError(t, err)
		c, err = f.engine.Evaluate(c.ID)
		require.NoError(t, err)
		return c
	}

	// friend holds a fifth of the policy: 100 of 500.
	c := evaluate("friend", 150*unit)
	assert.Equal(t, payout.StatusRejected, c.Status)
	assert.Equal(t, payout.ReasonExceedsShare, c.RejectReason)

	assert.Equal(t, payout.StatusApproved, evaluate("friend", 60*unit).Status)

	c = evaluate("friend", 50*unit)
	assert.Equal(t, payout.ReasonExceedsShare, c.RejectReason, "60 of 100 already approved")

	assert.Equal(t, payout.StatusApproved, evaluate("friend", 40*unit).Status)
	assert.Equal(t, payout.StatusApproved, evaluate("buyer", 400*unit).Status)

	pol, err := f.registry.Get(f.policyID)
	require.NoError(t, err)
	assert.Equal(t, int64(500*unit), pol.PendingPayout)
	assert.Equal(t, int64(0), pol.Remaining())
	require.NoError(t, f.engine.Validate())
	require.NoError(t, f.registry.Validate())
}

func TestEvaluate_RejectionsAreTerminal(t *testing.T) {
	f := newFixture(t)

	disputed, err := f.engine.SubmitClaim(f.policyID, "buyer", 100*unit, "disputed")
	require.NoError(t, err)
	tooBig, err := f.engine.SubmitClaim(f.policyID, "buyer", 501*unit, "ok")
	require.NoError(t, err)

	f.verdicts["disputed"] = oracle.StatusDisputed
	f.verdicts["ok"] = oracle.StatusVerified

	c, err := f.engine.Evaluate(disputed.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusRejected, c.Status)
	assert.Equal(t, payout.ReasonDisputed, c.RejectReason)

	c, err = f.engine.Evaluate(tooBig.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusRejected, c.Status)
	assert.Equal(t, payout.ReasonExceedsInsured, c.RejectReason)

	// A later verdict flip does not resurrect a rejected claim.
	f.verdicts["disputed"] = oracle.StatusVerified
	c, err = f.engine.Evaluate(disputed.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusRejected, c.Status)

	_, err = f.engine.Execute(disputed.ID)
	assert.ErrorIs(t, err, errs.ErrClaimNotApproved)
}

func TestEvaluate_NoDoubleApprovalBeyondCoverage(t *testing.T) {
	f := newFixture(t)
	f.verdicts["t"] = oracle.StatusVerified

	a, err := f.engine.SubmitClaim(f.policyID, "buyer", 300*unit, "t")
	require.NoError(t, err)
	b, err := f.engine.SubmitClaim(f.policyID, "buyer", 300*unit, "t")
	require.NoError(t, err)

	ca, err := f.engine.Evaluate(a.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusApproved, ca.Status)

	cb, err := f.engine.Evaluate(b.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusRejected, cb.Status)
	assert.Equal(t, payout.ReasonExceedsCoverage, cb.RejectReason)

	pol, _ := f.registry.Get(f.policyID)
	assert.Equal(t, int64(300*unit), pol.PendingPayout)
	require.NoError(t, f.engine.Validate())
}

func TestExecute_PendingNotApproved(t *testing.T) {
	f := newFixture(t)
	c, err := f.engine.SubmitClaim(f.policyID, "buyer", 10*unit, "t")
	require.NoError(t, err)

	_, err = f.engine.Execute(c.ID)
	assert.ErrorIs(t, err, errs.ErrClaimNotApproved)

	_, err = f.engine.Execute(999)
	assert.ErrorIs(t, err, errs.ErrClaimNotFound)
}

func TestExecute_AfterExpiryStillPays(t *testing.T) {
	f := newFixture(t)
	f.verdicts["t"] = oracle.StatusVerified

	c, err := f.engine.SubmitClaim(f.policyID, "buyer", 200*unit, "t")
	require.NoError(t, err)
	_, err = f.engine.Evaluate(c.ID)
	require.NoError(t, err)

	f.clock.Advance(40 * day)
	require.NoError(t, f.registry.Expire(f.policyID))
	assert.Equal(t, int64(200*unit), f.pool.Exposure())

	_, err = f.engine.Execute(c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.pool.Exposure())
	assert.Equal(t, int64(400*unit), f.pool.State().Capital)
	require.NoError(t, f.engine.Validate())
}

func TestExecute_SettlementFailureKeepsApproved(t *testing.T) {
	f := newFixture(t)
	f.verdicts["t"] = oracle.StatusVerified

	c, err := f.engine.SubmitClaim(f.policyID, "buyer", 100*unit, "t")
	require.NoError(t, err)
	_, err = f.engine.Evaluate(c.ID)
	require.NoError(t, err)

	f.wallets.FailNext(assert.AnError)
	_, err = f.engine.Execute(c.ID)
	assert.ErrorIs(t, err, errs.ErrSettlementFailed)

	got, _ := f.engine.Get(c.ID)
	assert.Equal(t, payout.StatusApproved, got.Status)
	assert.Equal(t, int64(600*unit), f.pool.State().Capital)

	_, err = f.engine.Execute(c.ID)
	require.NoError(t, err)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	c, err := f.engine.SubmitClaim(f.policyID, "buyer", 10*unit, "t")
	require.NoError(t, err)

	snap := f.engine.Snapshot()
	g := payout.NewEngine(f.registry, f.pool, f.verdicts, f.clock, zerolog.Nop())
	g.Restore(snap)

	got, err := g.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Len(t, g.ClaimsOf("buyer"), 1)
}
