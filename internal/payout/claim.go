package payout

import (
	"MutualLedger/internal/ledger"
	"time"
)

// Status is the claim lifecycle. Transitions only move forward:
// Pending → Approved | Rejected, Approved → Paid.
type Status uint8

const (
	StatusPending Status = iota
	StatusApproved
	StatusRejected
	StatusPaid
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	case StatusPaid:
		return "paid"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusPaid
}

// Claim is a request to be paid out of a policy.
type Claim struct {
	ID            uint64           `json:"id"`
	PolicyID      uint64           `json:"policy_id"`
	Claimant      ledger.Principal `json:"claimant"`
	Amount        int64            `json:"amount"`
	EvidenceTopic string           `json:"evidence_topic"`
	Status        Status           `json:"status"`
	RejectReason  string           `json:"reject_reason,omitempty"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	DecidedAt     time.Time        `json:"decided_at"`
	PaidAt        time.Time        `json:"paid_at"`
}

// Reject reasons
const (
	ReasonDisputed        = "verdict disputed"
	ReasonPolicyInactive  = "policy not active"
	ReasonExceedsInsured  = "amount exceeds amount insured"
	ReasonFullyClaimed    = "policy fully claimed"
	ReasonExceedsCoverage = "amount exceeds remaining coverage"
	ReasonExceedsShare    = "amount exceeds claimant's share"
)
