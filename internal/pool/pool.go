package pool

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/params"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Pool is the single writer of provider accounts and pool totals. Currency
// and share balances live in the ledger store; exposure and accrual clocks
// live here.
//
// Every mutating method validates and settles before its first write, so a
// returned error means nothing changed. A ledger rejection after that point
// is a bug and panics.
type Pool struct {
	store   *ledger.Store
	params  *params.Manager
	acl     *access.Table
	settler capability.Settler
	clock   capability.Clock
	logger  zerolog.Logger

	exposure    int64
	lastAccrual map[ledger.Principal]time.Time

	reinsuranceActive bool
	triggers          []ReinsuranceTrigger
}

// ReinsuranceTrigger records utilization crossing the reinsurance threshold.
type ReinsuranceTrigger struct {
	Utilization int64
	Threshold   int64
	Capital     int64
	Exposure    int64
	At          time.Time
}

func New(
	store *ledger.Store,
	pm *params.Manager,
	acl *access.Table,
	settler capability.Settler,
	clock capability.Clock,
	logger zerolog.Logger,
) *Pool {
	return &Pool{
		store:       store,
		params:      pm,
		acl:         acl,
		settler:     settler,
		clock:       clock,
		logger:      logger,
		lastAccrual: make(map[ledger.Principal]time.Time),
	}
}

// Deposit adds capital and mints shares at the current share price.
// Returns the shares minted.
func (p *Pool) Deposit(provider ledger.Principal, amount int64) (int64, error) {
	if !provider.Valid() {
		return 0, fmt.Errorf("%w: invalid principal %q", errs.ErrInvalidParameter, provider)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%w: deposit %d", errs.ErrInvalidAmount, amount)
	}

	bt := p.store.Balances()
	capital := bt.GetPoolCapital()
	if _, ok := fpmath.AddChecked(capital, amount); !ok {
		return 0, fmt.Errorf("%w: deposit %d overflows capital %d", errs.ErrInvalidAmount, amount, capital)
	}

	shares := fpmath.ComputeSharesToMint(amount, bt.GetTotalShares(), capital)
	if shares <= 0 {
		return 0, fmt.Errorf("%w: deposit %d mints no shares", errs.ErrInvalidAmount, amount)
	}

	now := p.clock.Now()
	accrued := p.pendingReward(provider, now)

	if err := p.settler.Settle(provider, ledger.SystemPool, amount); err != nil {
		return 0, fmt.Errorf("%w: deposit from %s: %v", errs.ErrSettlementFailed, provider, err)
	}

	p.commitAccrual(provider, accrued, now)
	p.mustPost(p.store.Journals().GenerateDeposit(provider, amount, shares))
	p.checkReinsurance(now)

	p.logger.Debug().
		Str("provider", provider.String()).
		Int64("amount", amount).
		Int64("shares", shares).
		Msg("deposit")

	return shares, nil
}

// Withdraw redeems amount of currency by burning shares, rounded up against
// the provider. Returns the shares burned.
func (p *Pool) Withdraw(provider ledger.Principal, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: withdraw %d", errs.ErrInvalidAmount, amount)
	}

	bt := p.store.Balances()
	capital := bt.GetPoolCapital()
	totalShares := bt.GetTotalShares()
	held := bt.GetUserShares(provider)

	value := fpmath.ComputeShareValue(held, totalShares, capital)
	if value < amount {
		return 0, fmt.Errorf("%w: %s holds value %d, requested %d", errs.ErrInsufficientBalance, provider, value, amount)
	}

	shares := fpmath.ComputeSharesToBurn(amount, totalShares, capital)
	if shares > held {
		shares = held
	}

	ceiling := p.params.Current().WithdrawalCeiling
	after := fpmath.ComputeUtilization(p.exposure, capital-amount)
	if after > ceiling {
		return 0, fmt.Errorf("%w: utilization after withdrawal %s > ceiling %s",
			errs.ErrUtilizationCeilingExceeded, fpmath.FormatRatio(after), fpmath.FormatRatio(ceiling))
	}

	now := p.clock.Now()
	accrued := p.pendingReward(provider, now)

	if err := p.settler.Settle(ledger.SystemPool, provider, amount); err != nil {
		return 0, fmt.Errorf("%w: withdrawal to %s: %v", errs.ErrSettlementFailed, provider, err)
	}

	p.commitAccrual(provider, accrued, now)
	p.mustPost(p.store.Journals().GenerateWithdrawal(provider, amount, shares))
	p.checkReinsurance(now)

	p.logger.Debug().
		Str("provider", provider.String()).
		Int64("amount", amount).
		Int64("shares", shares).
		Msg("withdraw")

	return shares, nil
}

// AccrueRewards brings a provider's reward balance up to now. Returns the
// amount newly accrued.
func (p *Pool) AccrueRewards(provider ledger.Principal) int64 {
	if _, ok := p.lastAccrual[provider]; !ok {
		return 0
	}
	now := p.clock.Now()
	accrued := p.pendingReward(provider, now)
	p.commitAccrual(provider, accrued, now)
	return accrued
}

// ClaimRewards accrues and pays out the provider's whole reward balance.
func (p *Pool) ClaimRewards(provider ledger.Principal) (int64, error) {
	now := p.clock.Now()
	accrued := p.pendingReward(provider, now)

	total := p.store.Balances().GetUserRewards(provider) + accrued
	if total <= 0 {
		return 0, fmt.Errorf("%w: %s", errs.ErrNoRewardsAvailable, provider)
	}

	if err := p.settler.Settle(ledger.SystemPool, provider, total); err != nil {
		return 0, fmt.Errorf("%w: reward claim to %s: %v", errs.ErrSettlementFailed, provider, err)
	}

	p.commitAccrual(provider, accrued, now)
	p.mustPost(p.store.Journals().GenerateRewardClaim(provider, total))
	return total, nil
}

// CheckCapacity reports whether amount of new exposure fits under the
// capacity cap without reserving it.
func (p *Pool) CheckCapacity(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: exposure %d", errs.ErrInvalidAmount, amount)
	}
	capital := p.store.Balances().GetPoolCapital()
	limit := fpmath.ApplyRatio(capital, p.params.Current().CapacityCap)
	next, ok := fpmath.AddChecked(p.exposure, amount)
	if !ok || next > limit {
		return fmt.Errorf("%w: exposure %d + %d > capacity %d", errs.ErrCapacityExceeded, p.exposure, amount, limit)
	}
	return nil
}

// ReserveForPolicy adds exposure for a newly issued policy.
func (p *Pool) ReserveForPolicy(caller ledger.Principal, amount int64) error {
	if err := p.acl.Check(access.OpReserveExposure, caller); err != nil {
		return err
	}
	if err := p.CheckCapacity(amount); err != nil {
		return err
	}

	p.exposure += amount
	p.checkReinsurance(p.clock.Now())
	return nil
}

// ReleaseReserve removes exposure for expired or settled coverage.
func (p *Pool) ReleaseReserve(caller ledger.Principal, amount int64) error {
	if err := p.acl.Check(access.OpReleaseExposure, caller); err != nil {
		return err
	}
	if amount <= 0 || amount > p.exposure {
		return fmt.Errorf("%w: release %d of exposure %d", errs.ErrInvalidAmount, amount, p.exposure)
	}

	p.exposure -= amount
	p.checkReinsurance(p.clock.Now())
	return nil
}

// CheckPayOut validates a payout without moving funds.
func (p *Pool) CheckPayOut(amount, releasedExposure int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: payout %d", errs.ErrInvalidAmount, amount)
	}
	if releasedExposure < 0 || releasedExposure > p.exposure {
		return fmt.Errorf("%w: release %d of exposure %d", errs.ErrInvalidAmount, releasedExposure, p.exposure)
	}
	available := p.store.Balances().GetPoolCapital() - (p.exposure - releasedExposure)
	if amount > available {
		return fmt.Errorf("%w: payout %d exceeds available %d", errs.ErrInsufficientReserves, amount, available)
	}
	return nil
}

// PayOut transfers capital to a claimant and releases the exposure backing
// the claim in the same step.
func (p *Pool) PayOut(caller, to ledger.Principal, amount, releasedExposure int64) error {
	if err := p.acl.Check(access.OpPayOut, caller); err != nil {
		return err
	}
	if err := p.CheckPayOut(amount, releasedExposure); err != nil {
		return err
	}

	if err := p.settler.Settle(ledger.SystemPool, to, amount); err != nil {
		return fmt.Errorf("%w: payout to %s: %v", errs.ErrSettlementFailed, to, err)
	}

	p.mustPost(p.store.Journals().GeneratePayout(amount))
	p.exposure -= releasedExposure
	p.checkReinsurance(p.clock.Now())

	p.logger.Info().
		Str("to", to.String()).
		Int64("amount", amount).
		Int64("released_exposure", releasedExposure).
		Msg("payout")
	return nil
}

// CollectPremium settles a premium from payer and splits it across the
// reward pool, reserve fund and treasury. Capital is unchanged.
func (p *Pool) CollectPremium(caller, payer ledger.Principal, amount int64) error {
	if err := p.acl.Check(access.OpCollectPremium, caller); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: premium %d", errs.ErrInvalidAmount, amount)
	}

	rewards, reserve, treasury := SplitPremium(amount, p.params.Current().PremiumSplit)

	if err := p.settler.Settle(payer, ledger.SystemPool, amount); err != nil {
		return fmt.Errorf("%w: premium from %s: %v", errs.ErrSettlementFailed, payer, err)
	}

	p.mustPost(p.store.Journals().GeneratePremium(rewards, reserve, treasury))
	return nil
}

// SplitPremium divides amount per split. Rounding remainders go to rewards.
func SplitPremium(amount int64, split params.Split) (rewards, reserve, treasury int64) {
	reserve = fpmath.ApplyRatio(amount, split.Reserve)
	treasury = fpmath.ApplyRatio(amount, split.Treasury)
	rewards = amount - reserve - treasury
	return rewards, reserve, treasury
}

// pendingReward computes rewards owed since the last accrual, bounded by
// the unallocated reward pool.
func (p *Pool) pendingReward(provider ledger.Principal, now time.Time) int64 {
	last, ok := p.lastAccrual[provider]
	if !ok || !now.After(last) {
		return 0
	}

	bt := p.store.Balances()
	value := fpmath.ComputeShareValue(bt.GetUserShares(provider), bt.GetTotalShares(), bt.GetPoolCapital())
	elapsed := int64(now.Sub(last) / time.Second)
	reward := fpmath.ComputeReward(value, p.params.Current().RewardRate, elapsed)

	if funded := bt.GetRewardPool(); reward > funded {
		reward = funded
	}
	return reward
}

func (p *Pool) commitAccrual(provider ledger.Principal, amount int64, now time.Time) {
	if amount > 0 {
		p.mustPost(p.store.Journals().GenerateRewardAccrual(provider, amount))
	}
	// Whole seconds only, so sub-second remainders are not lost.
	if last, ok := p.lastAccrual[provider]; ok && now.After(last) {
		p.lastAccrual[provider] = last.Add(now.Sub(last).Truncate(time.Second))
	} else if !ok {
		p.lastAccrual[provider] = now
	}
}

func (p *Pool) mustPost(batch *ledger.Batch, err error) {
	if err := p.store.Post(batch, err); err != nil {
		panic(fmt.Sprintf("FATAL: pool ledger post rejected after checks: %v", err))
	}
}

func (p *Pool) checkReinsurance(now time.Time) {
	threshold := p.params.Current().ReinsuranceThreshold
	capital := p.store.Balances().GetPoolCapital()
	util := fpmath.ComputeUtilization(p.exposure, capital)

	switch {
	case util >= threshold && !p.reinsuranceActive:
		p.reinsuranceActive = true
		trig := ReinsuranceTrigger{
			Utilization: util,
			Threshold:   threshold,
			Capital:     capital,
			Exposure:    p.exposure,
			At:          now,
		}
		p.triggers = append(p.triggers, trig)
		p.logger.Warn().
			Str("utilization", fpmath.FormatRatio(util)).
			Str("threshold", fpmath.FormatRatio(threshold)).
			Int64("capital", capital).
			Int64("exposure", p.exposure).
			Msg("reinsurance threshold crossed")
	case util < threshold && p.reinsuranceActive:
		p.reinsuranceActive = false
		p.logger.Info().
			Str("utilization", fpmath.FormatRatio(util)).
			Msg("utilization back under reinsurance threshold")
	}
}

// DrainTriggers returns reinsurance triggers raised since the last call.
func (p *Pool) DrainTriggers() []ReinsuranceTrigger {
	out := p.triggers
	p.triggers = nil
	return out
}
