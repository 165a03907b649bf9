package policy_test

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/params"
	"MutualLedger/internal/policy"
	"MutualLedger/internal/pool"
	"errors"
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

type fixture struct {
	registry *policy.Registry
	pool     *pool.Pool
	wallets  *capability.Wallets
	clock    *capability.ManualClock
	acl      *access.Table
}

func newFixture(t *testing.T, capital int64) *fixture {
	t.Helper()
	store := ledger.NewStore()
	store.Begin("test", 1, 0)
	wallets := capability.NewWallets()
	clock := capability.NewManualClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	pm := params.NewDefaultManager()
	acl := access.NewDefaultTable("admin")

	p := pool.New(store, pm, acl, wallets, clock, zerolog.Nop())
	if capital > 0 {
		wallets.Mint("lp", capital)
		_, err := p.Deposit("lp", capital)
		require.NoError(t, err)
	}

	r := policy.NewRegistry(p, pm, acl, clock, zerolog.Nop())
	return &fixture{registry: r, pool: p, wallets: wallets, clock: clock, acl: acl}
}

func TestPurchase_PremiumAndExposure(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 50*unit)

	pol, err := f.registry.Purchase("buyer", "flight-delay", 500*unit, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), pol.ID)
	assert.Equal(t, int64(50*unit), pol.PremiumPaid)
	assert.Equal(t, int64(500*unit), pol.TotalQuantity)
	assert.Equal(t, 30*day, pol.TermEnd.Sub(pol.TermStart))
	assert.Equal(t, policy.StatusActive, pol.Status)
	assert.Equal(t, int64(500*unit), f.registry.BalanceOf(pol.ID, "buyer"))

	st := f.pool.State()
	assert.Equal(t, int64(1_000*unit), st.Capital)
	assert.Equal(t, int64(500*unit), st.Exposure)
	assert.Equal(t, int64(500_000), st.Utilization)
	assert.Equal(t, f.registry.TotalExposure(), st.Exposure)
}

func TestPurchase_Validation(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 1_000*unit)

	_, err := f.registry.Purchase("buyer", "meteor-strike", 10*unit, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidRiskCategory)

	_, err = f.registry.Purchase("buyer", "flight-delay", 0, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	_, err = f.registry.Purchase("buyer", "flight-delay", 10*unit, time.Hour)
	assert.ErrorIs(t, err, errs.ErrInvalidTerm)

	_, err = f.registry.Purchase("buyer", "flight-delay", 10*unit, 400*day)
	assert.ErrorIs(t, err, errs.ErrInvalidTerm)

	assert.Equal(t, 0, f.registry.Count())
}

func TestPurchase_CapacityCheckedBeforeSettlement(t *testing.T) {
	f := newFixture(t, 100*unit)
	f.wallets.Mint("buyer", 1_000*unit)

	_, err := f.registry.Purchase("buyer", "flight-delay", 101*unit, 0)
	assert.ErrorIs(t, err, errs.ErrCapacityExceeded)
	assert.Equal(t, int64(1_000*unit), f.wallets.Balance("buyer"), "no premium taken")
	assert.Equal(t, 0, f.registry.Count())
}

func TestPurchase_SettlementFailureAborts(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 1*unit) // premium is 50

	_, err := f.registry.Purchase("buyer", "flight-delay", 500*unit, 0)
	assert.ErrorIs(t, err, errs.ErrSettlementFailed)
	assert.Equal(t, int64(0), f.pool.State().Exposure)
	assert.Equal(t, 0, f.registry.Count())

	f.wallets.FailNext(errors.New("down"))
	f.wallets.Mint("buyer", 100*unit)
	_, err = f.registry.Purchase("buyer", "flight-delay", 500*unit, 0)
	assert.ErrorIs(t, err, errs.ErrSettlementFailed)
	assert.Equal(t, 0, f.registry.Count())
}

func TestRenew(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 300*unit, 30*day)
	require.NoError(t, err)

	// 15 extra days on a 30 day original term: half of the 30 premium.
	renewed, err := f.registry.Renew("buyer", pol.ID, 15*day)
	require.NoError(t, err)
	assert.Equal(t, pol.TermEnd.Add(15*day), renewed.TermEnd)
	assert.Equal(t, int64(45*unit), renewed.PremiumPaid)
	assert.Equal(t, int64(55*unit), f.wallets.Balance("buyer"))
}

func TestRenew_Errors(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 300*unit, 30*day)
	require.NoError(t, err)

	_, err = f.registry.Renew("stranger", pol.ID, day)
	assert.ErrorIs(t, err, errs.ErrNotPolicyHolder)

	_, err = f.registry.Renew("buyer", 99, day)
	assert.ErrorIs(t, err, errs.ErrPolicyNotFound)

	// Inside the grace period renewal still works.
	f.clock.Advance(31 * day)
	_, err = f.registry.Renew("buyer", pol.ID, day)
	require.NoError(t, err)

	// Past term end plus grace it does not.
	f.clock.Advance(10 * day)
	_, err = f.registry.Renew("buyer", pol.ID, day)
	assert.ErrorIs(t, err, errs.ErrPolicyExpired)

	require.NoError(t, f.registry.Expire(pol.ID))
	_, err = f.registry.Renew("buyer", pol.ID, day)
	assert.ErrorIs(t, err, errs.ErrPolicyNotActive)
}

func TestTransfer(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 100*unit, 0)
	require.NoError(t, err)

	require.NoError(t, f.registry.Transfer("buyer", pol.ID, "buyer", "friend", 40*unit))
	assert.Equal(t, int64(60*unit), f.registry.BalanceOf(pol.ID, "buyer"))
	assert.Equal(t, int64(40*unit), f.registry.BalanceOf(pol.ID, "friend"))

	err = f.registry.Transfer("friend", pol.ID, "friend", "buyer", 41*unit)
	assert.ErrorIs(t, err, errs.ErrInsufficientPolicyBalance)

	err = f.registry.Transfer("buyer", pol.ID, "friend", "buyer", 1)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	err = f.registry.Transfer("buyer", pol.ID, "buyer", "friend", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)

	require.NoError(t, f.registry.Validate())
	assert.Len(t, f.registry.HoldingsOf("friend"), 1)
}

func TestExpire(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 200*unit, 30*day)
	require.NoError(t, err)

	err = f.registry.Expire(pol.ID)
	assert.ErrorIs(t, err, errs.ErrInvalidTerm)

	f.clock.Advance(34 * day)
	assert.Equal(t, []uint64{pol.ID}, f.registry.ExpiredCandidates(f.clock.Now()))

	require.NoError(t, f.registry.Expire(pol.ID))
	assert.Equal(t, int64(0), f.pool.Exposure())

	got, err := f.registry.Get(pol.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusExpired, got.Status)

	// Idempotent.
	require.NoError(t, f.registry.Expire(pol.ID))
	assert.Empty(t, f.registry.ExpiredCandidates(f.clock.Now()))
}

func TestExpire_RightAfterTermEnd(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 200*unit, 30*day)
	require.NoError(t, err)

	f.clock.Advance(30 * day)
	assert.ErrorIs(t, f.registry.Expire(pol.ID), errs.ErrInvalidTerm, "term end itself is covered")

	// Inside the grace window: the sweep leaves it for renewal, but an
	// explicit expire goes through.
	f.clock.Advance(time.Second)
	assert.Empty(t, f.registry.ExpiredCandidates(f.clock.Now()))
	require.NoError(t, f.registry.Expire(pol.ID))
	assert.Equal(t, int64(0), f.pool.Exposure())

	_, err = f.registry.Renew("buyer", pol.ID, day)
	assert.ErrorIs(t, err, errs.ErrPolicyNotActive)
}

func TestPayoutBookkeeping(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 200*unit, 30*day)
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.ReservePayout("buyer", pol.ID, 1), errs.ErrUnauthorized)

	require.NoError(t, f.registry.ReservePayout(access.Payout, pol.ID, 150*unit))
	assert.ErrorIs(t, f.registry.ReservePayout(access.Payout, pol.ID, 51*unit), errs.ErrInvalidAmount)

	// Expiry keeps the pending payout reserved.
	f.clock.Advance(40 * day)
	require.NoError(t, f.registry.Expire(pol.ID))
	assert.Equal(t, int64(150*unit), f.pool.Exposure())
	assert.Equal(t, f.registry.TotalExposure(), f.pool.Exposure())

	require.NoError(t, f.registry.SettlePayout(access.Payout, pol.ID, 150*unit))
	got, _ := f.registry.Get(pol.ID)
	assert.Equal(t, int64(150*unit), got.ClaimedAmount)
	assert.Equal(t, int64(0), got.Exposure())
}

func TestSettlePayout_FullyClaimed(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 200*unit, 30*day)
	require.NoError(t, err)

	require.NoError(t, f.registry.ReservePayout(access.Payout, pol.ID, 200*unit))
	require.NoError(t, f.registry.SettlePayout(access.Payout, pol.ID, 200*unit))

	got, _ := f.registry.Get(pol.ID)
	assert.Equal(t, policy.StatusClaimed, got.Status)
	assert.Equal(t, int64(0), got.Remaining())
	require.NoError(t, f.registry.Validate())
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, 1_000*unit)
	f.wallets.Mint("buyer", 100*unit)
	pol, err := f.registry.Purchase("buyer", "flight-delay", 100*unit, 0)
	require.NoError(t, err)
	require.NoError(t, f.registry.Transfer("buyer", pol.ID, "buyer", "friend", 10*unit))

	snap := f.registry.Snapshot()

	g := newFixture(t, 0)
	g.registry.Restore(snap)
	assert.Equal(t, int64(10*unit), g.registry.BalanceOf(pol.ID, "friend"))
	require.NoError(t, g.registry.Validate())

	g.wallets.Mint("lp", 1_000*unit)
	_, err = g.pool.Deposit("lp", 1_000*unit)
	require.NoError(t, err)
	g.wallets.Mint("buyer", 100*unit)
	next, err := g.registry.Purchase("buyer", "flight-delay", 1*unit, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.ID)
}
