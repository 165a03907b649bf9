package params

import (
	"MutualLedger/internal/errs"
	fpmath "MutualLedger/internal/math"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Split divides each collected premium between the reward pool, the
// reserve fund and the treasury (parts per million, summing to 1_000_000).
type Split struct {
	Rewards  int64 `json:"rewards"`
	Reserve  int64 `json:"reserve"`
	Treasury int64 `json:"treasury"`
}

// Params holds every governable protocol parameter.
// Ratios use decimal_precision=6 (1_000_000 = 100%).
type Params struct {
	PremiumRates         map[string]int64 `json:"premium_rates"`         // category → rate for one original term
	WithdrawalCeiling    int64            `json:"withdrawal_ceiling"`    // max utilization after a withdrawal
	CapacityCap          int64            `json:"capacity_cap"`          // exposure ≤ capital × cap
	ReserveRatioTarget   int64            `json:"reserve_ratio_target"`  // reserve fund / exposure, reported only
	ReinsuranceThreshold int64            `json:"reinsurance_threshold"` // utilization that raises the trigger
	RewardRate           int64            `json:"reward_rate"`           // annual, on share value
	PremiumSplit         Split            `json:"premium_split"`
	GracePeriod          time.Duration    `json:"grace_period"`
	MinTerm              time.Duration    `json:"min_term"`
	MaxTerm              time.Duration    `json:"max_term"`
	DefaultTerm          time.Duration    `json:"default_term"`
	OracleQuorum         int64            `json:"oracle_quorum"`
	DisputeThreshold     int64            `json:"dispute_threshold"`
	ProposalThreshold    int64            `json:"proposal_threshold"` // share of token supply
	GovernanceQuorum     int64            `json:"governance_quorum"`  // share of token supply
	VotingPeriod         time.Duration    `json:"voting_period"`
}

const day = 24 * time.Hour

// Defaults returns the genesis parameter set.
func Defaults() Params {
	return Params{
		PremiumRates: map[string]int64{
			"flight-delay":   100_000, // 10%
			"crop-weather":   100_000,
			"smart-contract": 150_000,
			"exchange-hack":  200_000,
		},
		WithdrawalCeiling:    850_000,   // 85%
		CapacityCap:          1_000_000, // 100%
		ReserveRatioTarget:   200_000,   // 20%
		ReinsuranceThreshold: 800_000,   // 80%
		RewardRate:           50_000,    // 5% APY
		PremiumSplit:         Split{Rewards: 700_000, Reserve: 200_000, Treasury: 100_000},
		GracePeriod:          3 * day,
		MinTerm:              day,
		MaxTerm:              365 * day,
		DefaultTerm:          30 * day,
		OracleQuorum:         2,
		DisputeThreshold:     1,
		ProposalThreshold:    10_000,  // 1% of supply
		GovernanceQuorum:     100_000, // 10% of supply
		VotingPeriod:         3 * day,
	}
}

// Clone returns a deep copy.
func (p Params) Clone() Params {
	rates := make(map[string]int64, len(p.PremiumRates))
	for k, v := range p.PremiumRates {
		rates[k] = v
	}
	p.PremiumRates = rates
	return p
}

// Categories returns the configured risk categories, sorted.
func (p Params) Categories() []string {
	out := make([]string, 0, len(p.PremiumRates))
	for k := range p.PremiumRates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Validate checks that parameters are within valid ranges.
func (p Params) Validate() error {
	const hundred = fpmath.OneHundredPercent

	if len(p.PremiumRates) == 0 {
		return fmt.Errorf("at least one risk category is required")
	}
	for cat, rate := range p.PremiumRates {
		if cat == "" {
			return fmt.Errorf("empty risk category")
		}
		if rate <= 0 || rate > hundred {
			return fmt.Errorf("premium rate for %s must be in (0, %d], got %d", cat, hundred, rate)
		}
	}
	if p.CapacityCap <= 0 || p.CapacityCap > 10*hundred {
		return fmt.Errorf("capacity_cap must be in (0, %d], got %d", 10*hundred, p.CapacityCap)
	}
	if p.WithdrawalCeiling <= 0 || p.WithdrawalCeiling > p.CapacityCap {
		return fmt.Errorf("withdrawal_ceiling must be in (0, capacity_cap=%d], got %d", p.CapacityCap, p.WithdrawalCeiling)
	}
	if p.ReserveRatioTarget < 0 || p.ReserveRatioTarget > hundred {
		return fmt.Errorf("reserve_ratio_target must be in [0, %d], got %d", hundred, p.ReserveRatioTarget)
	}
	if p.ReinsuranceThreshold <= 0 || p.ReinsuranceThreshold > p.CapacityCap {
		return fmt.Errorf("reinsurance_threshold must be in (0, capacity_cap=%d], got %d", p.CapacityCap, p.ReinsuranceThreshold)
	}
	if p.RewardRate < 0 || p.RewardRate > hundred {
		return fmt.Errorf("reward_rate must be in [0, %d], got %d", hundred, p.RewardRate)
	}
	s := p.PremiumSplit
	if s.Rewards < 0 || s.Reserve < 0 || s.Treasury < 0 || s.Rewards+s.Reserve+s.Treasury != hundred {
		return fmt.Errorf("premium_split must be non-negative and sum to %d, got %+v", hundred, s)
	}
	if p.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be >= 0, got %s", p.GracePeriod)
	}
	if p.MinTerm <= 0 || p.MaxTerm < p.MinTerm {
		return fmt.Errorf("term bounds invalid: min=%s max=%s", p.MinTerm, p.MaxTerm)
	}
	if p.DefaultTerm < p.MinTerm || p.DefaultTerm > p.MaxTerm {
		return fmt.Errorf("default_term %s outside [%s, %s]", p.DefaultTerm, p.MinTerm, p.MaxTerm)
	}
	if p.OracleQuorum < 1 {
		return fmt.Errorf("oracle_quorum must be >= 1, got %d", p.OracleQuorum)
	}
	if p.DisputeThreshold < 1 || p.DisputeThreshold > p.OracleQuorum {
		return fmt.Errorf("dispute_threshold must be in [1, oracle_quorum=%d], got %d", p.OracleQuorum, p.DisputeThreshold)
	}
	if p.ProposalThreshold < 0 || p.ProposalThreshold > hundred {
		return fmt.Errorf("proposal_threshold must be in [0, %d], got %d", hundred, p.ProposalThreshold)
	}
	if p.GovernanceQuorum <= 0 || p.GovernanceQuorum > hundred {
		return fmt.Errorf("governance_quorum must be in (0, %d], got %d", hundred, p.GovernanceQuorum)
	}
	if p.VotingPeriod <= 0 {
		return fmt.Errorf("voting_period must be > 0, got %s", p.VotingPeriod)
	}
	return nil
}

// Manager owns the live parameter set. Reads return copies; writes go
// through Apply, which validates the whole resulting set first.
type Manager struct {
	mu      sync.RWMutex
	current Params
}

func NewManager(initial Params) (*Manager, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidParameter, err)
	}
	return &Manager{current: initial.Clone()}, nil
}

// NewDefaultManager is NewManager(Defaults()); the defaults always validate.
func NewDefaultManager() *Manager {
	m, err := NewManager(Defaults())
	if err != nil {
		panic(fmt.Sprintf("FATAL: default params invalid: %v", err))
	}
	return m
}

func (m *Manager) Current() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

func (m *Manager) PremiumRate(category string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rate, ok := m.current.PremiumRates[category]
	return rate, ok
}

// Replace swaps the whole parameter set (snapshot restore).
func (m *Manager) Replace(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidParameter, err)
	}
	m.mu.Lock()
	m.current = p.Clone()
	m.mu.Unlock()
	return nil
}

// Validate reports whether c could be applied to the current set.
func (m *Manager) Validate(c Change) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := c.applyTo(m.current)
	return err
}

// Apply validates and applies c atomically.
func (m *Manager) Apply(c Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := c.applyTo(m.current)
	if err != nil {
		return err
	}
	m.current = next
	return nil
}
