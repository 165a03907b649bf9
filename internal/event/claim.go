package event

import "MutualLedger/internal/ledger"

type SubmitClaim struct {
	Header
	PolicyID      uint64           `json:"policy_id"`
	Claimant      ledger.Principal `json:"claimant"`
	Amount        int64            `json:"amount"`
	EvidenceTopic string           `json:"evidence_topic"`
}

func (*SubmitClaim) Kind() Kind { return KindSubmitClaim }

type EvaluateClaim struct {
	Header
	ClaimID uint64 `json:"claim_id"`
}

func (*EvaluateClaim) Kind() Kind { return KindEvaluateClaim }

type ExecuteClaim struct {
	Header
	ClaimID uint64 `json:"claim_id"`
}

func (*ExecuteClaim) Kind() Kind { return KindExecuteClaim }
