package governance

import (
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/params"
	"time"
)

// Status is derived from tallies, the clock and the executed flag.
type Status uint8

const (
	StatusActive Status = iota
	StatusPassed
	StatusFailed
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// Receipt is a voter's recorded choice and the weight counted for it.
type Receipt struct {
	Support bool  `json:"support"`
	Weight  int64 `json:"weight"`
}

// Proposal is a pending or decided parameter change.
type Proposal struct {
	ID           uint64                       `json:"id"`
	Proposer     ledger.Principal             `json:"proposer"`
	Change       params.Change                `json:"change"`
	Description  string                       `json:"description"`
	VotesFor     int64                        `json:"votes_for"`
	VotesAgainst int64                        `json:"votes_against"`
	QuorumVotes  int64                        `json:"quorum_votes"` // fixed at creation
	Receipts     map[ledger.Principal]Receipt `json:"receipts"`
	StartTime    time.Time                    `json:"start_time"`
	EndTime      time.Time                    `json:"end_time"`
	Executed     bool                         `json:"executed"`
	ExecutedAt   time.Time                    `json:"executed_at"`
}

// StatusAt derives the proposal's status at now.
func (p *Proposal) StatusAt(now time.Time) Status {
	switch {
	case p.Executed:
		return StatusExecuted
	case !now.After(p.EndTime):
		return StatusActive
	case p.VotesFor > p.VotesAgainst && p.VotesFor+p.VotesAgainst >= p.QuorumVotes:
		return StatusPassed
	default:
		return StatusFailed
	}
}

func (p *Proposal) clone() Proposal {
	cp := *p
	cp.Receipts = make(map[ledger.Principal]Receipt, len(p.Receipts))
	for k, v := range p.Receipts {
		cp.Receipts[k] = v
	}
	return cp
}
