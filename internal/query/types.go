package query

import "time"

// Amounts are decimal strings with 6 places ("1000.000000"); ratios are
// percentages with 4 places ("83.3334"). Every response carries
// as_of_sequence: the next sequence the engine will assign.

// LiquidityResponse is the pool-wide liquidity view.
type LiquidityResponse struct {
	Capital           string `json:"capital"`
	TotalShares       string `json:"total_shares"`
	SharePrice        string `json:"share_price"`
	Exposure          string `json:"exposure"`
	Utilization       string `json:"utilization"`
	Available         string `json:"available"` // capital not backing exposure
	ReserveFund       string `json:"reserve_fund"`
	ReserveRatio      string `json:"reserve_ratio"`
	RewardPool        string `json:"reward_pool"`
	Treasury          string `json:"treasury"`
	ReinsuranceActive bool   `json:"reinsurance_active"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// ProviderResponse is one liquidity provider's position.
type ProviderResponse struct {
	Provider       string    `json:"provider"`
	Shares         string    `json:"shares"`
	Value          string    `json:"value"`
	Rewards        string    `json:"rewards"`
	PendingRewards string    `json:"pending_rewards"`
	LastAccrual    time.Time `json:"last_accrual"`
	Votes          string    `json:"votes"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

type APYResponse struct {
	APY          string `json:"apy"`
	RewardRate   string `json:"reward_rate"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type HoldingResponse struct {
	Holder   string `json:"holder"`
	Quantity string `json:"quantity"`
}

type PolicyResponse struct {
	ID            uint64            `json:"id"`
	Buyer         string            `json:"buyer"`
	Category      string            `json:"category"`
	AmountInsured string            `json:"amount_insured"`
	PremiumPaid   string            `json:"premium_paid"`
	ClaimedAmount string            `json:"claimed_amount"`
	PendingPayout string            `json:"pending_payout"`
	Remaining     string            `json:"remaining"`
	TermStart     time.Time         `json:"term_start"`
	TermEnd       time.Time         `json:"term_end"`
	Status        string            `json:"status"`
	Holders       []HoldingResponse `json:"holders,omitempty"`
	HeldQuantity  string            `json:"held_quantity,omitempty"` // set for per-holder listings
	AsOfSequence  int64             `json:"as_of_sequence"`
}

type ClaimResponse struct {
	ID            uint64     `json:"id"`
	PolicyID      uint64     `json:"policy_id"`
	Claimant      string     `json:"claimant"`
	Amount        string     `json:"amount"`
	EvidenceTopic string     `json:"evidence_topic"`
	Evidence      string     `json:"evidence"` // current verdict of the evidence topic
	Status        string     `json:"status"`
	RejectReason  string     `json:"reject_reason,omitempty"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	AsOfSequence  int64      `json:"as_of_sequence"`
}

type ProposalResponse struct {
	ID           uint64    `json:"id"`
	Proposer     string    `json:"proposer"`
	Change       string    `json:"change"`
	Description  string    `json:"description"`
	VotesFor     string    `json:"votes_for"`
	VotesAgainst string    `json:"votes_against"`
	QuorumVotes  string    `json:"quorum_votes"`
	Voters       int       `json:"voters"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Status       string    `json:"status"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

type TopicResponse struct {
	Topic        string    `json:"topic"`
	Status       string    `json:"status"`
	QuorumCount  int64     `json:"quorum_count"`
	AgreedHash   string    `json:"agreed_hash,omitempty"`
	Attestations int       `json:"attestations"`
	Sources      []string  `json:"sources"`
	FinalizedAt  time.Time `json:"finalized_at,omitempty"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry is one persisted journal touching a principal.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool     `json:"is_healthy"`
	InvariantErrors []string `json:"invariant_errors,omitempty"`
	HashChainBreaks []int64  `json:"hash_chain_breaks,omitempty"`
	StateHash       string   `json:"state_hash"`
	AsOfSequence    int64    `json:"as_of_sequence"`
}
