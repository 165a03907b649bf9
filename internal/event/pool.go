package event

import "MutualLedger/internal/ledger"

// Deposit adds capital on behalf of a liquidity provider.
type Deposit struct {
	Header
	Provider ledger.Principal `json:"provider"`
	Amount   int64            `json:"amount"` // Fixed-point
}

func (*Deposit) Kind() Kind { return KindDeposit }

// Withdraw burns shares worth Amount and pays the provider.
type Withdraw struct {
	Header
	Provider ledger.Principal `json:"provider"`
	Amount   int64            `json:"amount"`
}

func (*Withdraw) Kind() Kind { return KindWithdraw }

type AccrueRewards struct {
	Header
	Provider ledger.Principal `json:"provider"`
}

func (*AccrueRewards) Kind() Kind { return KindAccrueRewards }

type ClaimRewards struct {
	Header
	Provider ledger.Principal `json:"provider"`
}

func (*ClaimRewards) Kind() Kind { return KindClaimRewards }
