package policy

import (
	"MutualLedger/internal/ledger"
	"time"
)

// Status is the lifecycle state of a policy
type Status uint8

const (
	StatusActive Status = iota
	StatusExpired
	StatusClaimed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

// Policy is a unit of coverage. Ownership is fractional: TotalQuantity is
// split across holders in the registry's holdings table.
type Policy struct {
	ID            uint64           `json:"id"`
	Buyer         ledger.Principal `json:"buyer"`
	Category      string           `json:"category"`
	AmountInsured int64            `json:"amount_insured"`
	TotalQuantity int64            `json:"total_quantity"`
	TermStart     time.Time        `json:"term_start"`
	TermEnd       time.Time        `json:"term_end"`
	OriginalTerm  time.Duration    `json:"original_term"`
	PremiumPaid   int64            `json:"premium_paid"`
	ClaimedAmount int64            `json:"claimed_amount"`
	PendingPayout int64            `json:"pending_payout"` // approved, not yet paid
	Status        Status           `json:"status"`
}

// Exposure is the pool capital this policy still keeps reserved.
func (p *Policy) Exposure() int64 {
	switch p.Status {
	case StatusActive:
		return p.AmountInsured - p.ClaimedAmount
	case StatusExpired:
		return p.PendingPayout
	default:
		return 0
	}
}

// ActiveAt reports whether the policy still covers events at now. A policy
// past its term end is treated as lapsed even before Expire runs.
func (p *Policy) ActiveAt(now time.Time) bool {
	return p.Status == StatusActive && !now.After(p.TermEnd)
}

// Remaining is what new claims may still be approved for.
func (p *Policy) Remaining() int64 {
	if p.Status != StatusActive {
		return 0
	}
	return p.AmountInsured - p.ClaimedAmount - p.PendingPayout
}

// Holding is one holder's fraction of a policy.
type Holding struct {
	PolicyID uint64           `json:"policy_id"`
	Holder   ledger.Principal `json:"holder"`
	Quantity int64            `json:"quantity"`
}
