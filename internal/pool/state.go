package pool

import (
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"time"
)

// State is a point-in-time view of the pool. Ratios are always derived from
// capital and exposure at read time.
type State struct {
	Capital           int64 `json:"capital"`
	TotalShares       int64 `json:"total_shares"`
	Exposure          int64 `json:"exposure"`
	Utilization       int64 `json:"utilization"`
	ReserveFund       int64 `json:"reserve_fund"`
	RewardPool        int64 `json:"reward_pool"`
	Treasury          int64 `json:"treasury"`
	ReserveRatio      int64 `json:"reserve_ratio"` // reserve fund / exposure
	SharePrice        int64 `json:"share_price"`   // capital per share, 6dp
	ReinsuranceActive bool  `json:"reinsurance_active"`
}

// Account is a provider's view of their position.
type Account struct {
	Principal      ledger.Principal `json:"principal"`
	Shares         int64            `json:"shares"`
	Value          int64            `json:"value"`
	Rewards        int64            `json:"rewards"`         // accrued, unclaimed
	PendingRewards int64            `json:"pending_rewards"` // owed since LastAccrual, not yet accrued
	LastAccrual    time.Time        `json:"last_accrual"`
}

func (p *Pool) State() State {
	bt := p.store.Balances()
	capital := bt.GetPoolCapital()
	shares := bt.GetTotalShares()
	reserve := bt.GetReserveFund()

	price := fpmath.AmountConfig.Scale
	if shares > 0 {
		price = fpmath.MulDiv(capital, fpmath.ShareConfig.Scale, shares, fpmath.RoundDown)
	}

	var ratio int64
	if p.exposure > 0 {
		ratio = fpmath.MulDiv(reserve, fpmath.OneHundredPercent, p.exposure, fpmath.RoundDown)
	}

	return State{
		Capital:           capital,
		TotalShares:       shares,
		Exposure:          p.exposure,
		Utilization:       p.Utilization(),
		ReserveFund:       reserve,
		RewardPool:        bt.GetRewardPool(),
		Treasury:          bt.GetTreasury(),
		ReserveRatio:      ratio,
		SharePrice:        price,
		ReinsuranceActive: p.reinsuranceActive,
	}
}

func (p *Pool) Exposure() int64 { return p.exposure }

// Utilization is exposure over capital in parts per million, rounded up.
func (p *Pool) Utilization() int64 {
	return fpmath.ComputeUtilization(p.exposure, p.store.Balances().GetPoolCapital())
}

// ValueOf returns the currency value of a provider's shares.
func (p *Pool) ValueOf(provider ledger.Principal) int64 {
	bt := p.store.Balances()
	return fpmath.ComputeShareValue(bt.GetUserShares(provider), bt.GetTotalShares(), bt.GetPoolCapital())
}

func (p *Pool) Account(provider ledger.Principal) Account {
	bt := p.store.Balances()
	return Account{
		Principal:      provider,
		Shares:         bt.GetUserShares(provider),
		Value:          p.ValueOf(provider),
		Rewards:        bt.GetUserRewards(provider),
		PendingRewards: p.pendingReward(provider, p.clock.Now()),
		LastAccrual:    p.lastAccrual[provider],
	}
}

// APY is the reward rate the pool can sustain for a year: the configured
// rate, capped by the reward pool relative to capital.
func (p *Pool) APY() int64 {
	bt := p.store.Balances()
	rate := p.params.Current().RewardRate
	capital := bt.GetPoolCapital()
	if capital <= 0 {
		return 0
	}
	funded := fpmath.MulDiv(bt.GetRewardPool(), fpmath.OneHundredPercent, capital, fpmath.RoundDown)
	if funded < rate {
		return funded
	}
	return rate
}

// Snapshot is the pool state not held in the ledger.
type Snapshot struct {
	Exposure          int64                      `json:"exposure"`
	LastAccrual       map[ledger.Principal]int64 `json:"last_accrual"` // unix micros
	ReinsuranceActive bool                       `json:"reinsurance_active"`
}

func (p *Pool) Snapshot() Snapshot {
	last := make(map[ledger.Principal]int64, len(p.lastAccrual))
	for k, v := range p.lastAccrual {
		last[k] = v.UnixMicro()
	}
	return Snapshot{
		Exposure:          p.exposure,
		LastAccrual:       last,
		ReinsuranceActive: p.reinsuranceActive,
	}
}

func (p *Pool) Restore(s Snapshot) {
	p.exposure = s.Exposure
	p.reinsuranceActive = s.ReinsuranceActive
	p.lastAccrual = make(map[ledger.Principal]time.Time, len(s.LastAccrual))
	for k, v := range s.LastAccrual {
		p.lastAccrual[k] = time.UnixMicro(v).UTC()
	}
	p.triggers = nil
}
