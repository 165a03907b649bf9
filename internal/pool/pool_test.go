package pool_test

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/params"
	"MutualLedger/internal/pool"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const unit = 1_000_000

type fixture struct {
	pool    *pool.Pool
	store   *ledger.Store
	wallets *capability.Wallets
	clock   *capability.ManualClock
	params  *params.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewStore()
	store.Begin("test", 1, 0)
	wallets := capability.NewWallets()
	clock := capability.NewManualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	pm := params.NewDefaultManager()
	p := pool.New(store, pm, access.NewDefaultTable("admin"), wallets, clock, zerolog.Nop())
	return &fixture{pool: p, store: store, wallets: wallets, clock: clock, params: pm}
}

func (f *fixture) fund(p ledger.Principal, amount int64) {
	f.wallets.Mint(p, amount)
}

func TestDeposit_MintsOneToOneOnEmptyPool(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 1_000*unit)

	shares, err := f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000*unit), shares)

	st := f.pool.State()
	assert.Equal(t, int64(1_000*unit), st.Capital)
	assert.Equal(t, int64(1_000*unit), st.TotalShares)
	assert.Equal(t, int64(unit), st.SharePrice)
	assert.Equal(t, int64(0), f.wallets.Balance("alice"))
	assert.Equal(t, int64(1_000*unit), f.wallets.Balance(ledger.SystemPool))
}

func TestDeposit_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.pool.Deposit("alice", 0)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	_, err = f.pool.Deposit("alice", -5)
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
}

func TestDeposit_SettlementFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.wallets.FailNext(errors.New("paused"))
	f.fund("alice", 10*unit)

	_, err := f.pool.Deposit("alice", 10*unit)
	assert.ErrorIs(t, err, errs.ErrSettlementFailed)
	assert.Equal(t, pool.State{SharePrice: unit}, f.pool.State())
	assert.Nil(t, f.store.Drain())
}

func TestDeposit_SecondProviderAtSamePrice(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 100*unit)
	f.fund("bob", 50*unit)

	_, err := f.pool.Deposit("alice", 100*unit)
	require.NoError(t, err)
	shares, err := f.pool.Deposit("bob", 50*unit)
	require.NoError(t, err)

	assert.Equal(t, int64(50*unit), shares)
	assert.Equal(t, int64(50*unit), f.pool.ValueOf("bob"))
}

// Deposit 1,000; insure 500; withdraw 900 fails, withdraw 400 succeeds.
func TestWithdraw_UtilizationCeiling(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 1_000*unit)
	_, err := f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)

	require.NoError(t, f.pool.ReserveForPolicy(access.Registry, 500*unit))
	assert.Equal(t, int64(500_000), f.pool.State().Utilization)

	_, err = f.pool.Withdraw("alice", 900*unit)
	assert.ErrorIs(t, err, errs.ErrUtilizationCeilingExceeded)
	assert.Equal(t, int64(1_000*unit), f.pool.State().Capital)

	_, err = f.pool.Withdraw("alice", 400*unit)
	require.NoError(t, err)

	st := f.pool.State()
	assert.Equal(t, int64(600*unit), st.Capital)
	assert.Equal(t, int64(833_334), st.Utilization)
	assert.Equal(t, int64(400*unit), f.wallets.Balance("alice"))
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 100*unit)
	_, err := f.pool.Deposit("alice", 100*unit)
	require.NoError(t, err)

	_, err = f.pool.Withdraw("alice", 101*unit)
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)

	_, err = f.pool.Withdraw("bob", 1)
	assert.ErrorIs(t, err, errs.ErrInsufficientBalance)
}

func TestWithdraw_EverythingWithNoExposure(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 100*unit)
	_, err := f.pool.Deposit("alice", 100*unit)
	require.NoError(t, err)

	burned, err := f.pool.Withdraw("alice", 100*unit)
	require.NoError(t, err)
	assert.Equal(t, int64(100*unit), burned)
	assert.Equal(t, int64(0), f.pool.State().TotalShares)
	require.NoError(t, f.store.Validator().ValidateAll())
}

func TestReserveForPolicy_CapacityExceeded(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 100*unit)
	_, err := f.pool.Deposit("alice", 100*unit)
	require.NoError(t, err)

	require.NoError(t, f.pool.ReserveForPolicy(access.Registry, 100*unit))
	err = f.pool.ReserveForPolicy(access.Registry, 1)
	assert.ErrorIs(t, err, errs.ErrCapacityExceeded)
	assert.Equal(t, int64(100*unit), f.pool.Exposure())
}

func TestPrivilegedCallsRequireCapability(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 100*unit)
	_, err := f.pool.Deposit("alice", 100*unit)
	require.NoError(t, err)

	assert.ErrorIs(t, f.pool.ReserveForPolicy("alice", 1), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.pool.ReleaseReserve("alice", 1), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.pool.PayOut("alice", "alice", 1, 0), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.pool.CollectPremium("alice", "alice", 1), errs.ErrUnauthorized)
}

func TestCollectPremium_SplitsWithoutTouchingCapital(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 1_000*unit)
	f.fund("buyer", 50*unit)
	_, err := f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)

	require.NoError(t, f.pool.CollectPremium(access.Registry, "buyer", 50*unit))

	st := f.pool.State()
	assert.Equal(t, int64(1_000*unit), st.Capital)
	assert.Equal(t, int64(35*unit), st.RewardPool)
	assert.Equal(t, int64(10*unit), st.ReserveFund)
	assert.Equal(t, int64(5*unit), st.Treasury)
	assert.Equal(t, int64(0), f.wallets.Balance("buyer"))
}

func TestSplitPremium_RemainderToRewards(t *testing.T) {
	r, res, tr := pool.SplitPremium(7, params.Split{Rewards: 700_000, Reserve: 200_000, Treasury: 100_000})
	assert.Equal(t, int64(7), r+res+tr)
	assert.Equal(t, int64(1), res)
	assert.Equal(t, int64(0), tr)
}

func TestPayOut_InsufficientReserves(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 600*unit)
	_, err := f.pool.Deposit("alice", 600*unit)
	require.NoError(t, err)
	require.NoError(t, f.pool.ReserveForPolicy(access.Registry, 500*unit))

	// Releasing only 100 of exposure leaves 400 reserved for others.
	err = f.pool.PayOut(access.Payout, "claimant", 300*unit, 100*unit)
	assert.ErrorIs(t, err, errs.ErrInsufficientReserves)

	require.NoError(t, f.pool.PayOut(access.Payout, "claimant", 500*unit, 500*unit))
	st := f.pool.State()
	assert.Equal(t, int64(100*unit), st.Capital)
	assert.Equal(t, int64(0), st.Exposure)
	assert.Equal(t, int64(500*unit), f.wallets.Balance("claimant"))
}

func TestRewards_AccrueLazilyFromPremiumIncome(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 1_000*unit)
	f.fund("buyer", 1_000*unit)
	_, err := f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)
	require.NoError(t, f.pool.CollectPremium(access.Registry, "buyer", 1_000*unit))

	// 5% APY on 1,000 for a full year = 50, well under the 700 reward pool.
	f.clock.Advance(365 * 24 * time.Hour)
	acct := f.pool.Account("alice")
	assert.Equal(t, int64(50*unit), acct.PendingRewards)

	claimed, err := f.pool.ClaimRewards("alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50*unit), claimed)
	assert.Equal(t, int64(650*unit), f.pool.State().RewardPool)

	_, err = f.pool.ClaimRewards("alice")
	assert.ErrorIs(t, err, errs.ErrNoRewardsAvailable)
}

func TestRewards_CappedByRewardPool(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 1_000*unit)
	f.fund("buyer", 10*unit)
	_, err := f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)
	require.NoError(t, f.pool.CollectPremium(access.Registry, "buyer", 10*unit))

	f.clock.Advance(365 * 24 * time.Hour)
	accrued := f.pool.AccrueRewards("alice")
	assert.Equal(t, int64(7*unit), accrued)
	assert.Equal(t, int64(0), f.pool.State().RewardPool)
}

func TestRewards_AccruedBeforeShareChange(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 2_000*unit)
	f.fund("buyer", 1_000*unit)
	_, err := f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)
	require.NoError(t, f.pool.CollectPremium(access.Registry, "buyer", 1_000*unit))

	f.clock.Advance(365 * 24 * time.Hour)
	_, err = f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)

	// The year before the second deposit accrued on 1,000 only.
	assert.Equal(t, int64(50*unit), f.pool.Account("alice").Rewards)
	assert.Equal(t, int64(0), f.pool.Account("alice").PendingRewards)
}

func TestReinsuranceTrigger(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 1_000*unit)
	_, err := f.pool.Deposit("alice", 1_000*unit)
	require.NoError(t, err)

	require.NoError(t, f.pool.ReserveForPolicy(access.Registry, 700*unit))
	assert.Empty(t, f.pool.DrainTriggers())

	require.NoError(t, f.pool.ReserveForPolicy(access.Registry, 100*unit))
	trig := f.pool.DrainTriggers()
	require.Len(t, trig, 1)
	assert.Equal(t, int64(800_000), trig[0].Utilization)
	assert.True(t, f.pool.State().ReinsuranceActive)

	// Staying above the threshold does not re-fire.
	require.NoError(t, f.pool.ReserveForPolicy(access.Registry, 50*unit))
	assert.Empty(t, f.pool.DrainTriggers())
}

func TestConservation_ShareSupplyMatchesHoldings(t *testing.T) {
	f := newFixture(t)
	providers := []ledger.Principal{"a", "b", "c"}
	for i, p := range providers {
		f.fund(p, int64(i+1)*100*unit)
		_, err := f.pool.Deposit(p, int64(i+1)*100*unit)
		require.NoError(t, err)
	}
	_, err := f.pool.Withdraw("b", 33*unit)
	require.NoError(t, err)

	require.NoError(t, f.store.Validator().ValidateAll())
	var held int64
	for _, p := range providers {
		held += f.pool.Account(p).Shares
	}
	assert.Equal(t, f.pool.State().TotalShares, held)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t)
	f.fund("alice", 100*unit)
	_, err := f.pool.Deposit("alice", 100*unit)
	require.NoError(t, err)
	require.NoError(t, f.pool.ReserveForPolicy(access.Registry, 10*unit))

	snap := f.pool.Snapshot()

	g := newFixture(t)
	g.pool.Restore(snap)
	assert.Equal(t, int64(10*unit), g.pool.Exposure())
	assert.Equal(t, f.clock.Now(), g.pool.Account("alice").LastAccrual)
}
