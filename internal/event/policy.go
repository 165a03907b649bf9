package event

import (
	"MutualLedger/internal/ledger"
	"time"
)

// PurchasePolicy buys coverage. A zero Term selects the default term.
type PurchasePolicy struct {
	Header
	Buyer         ledger.Principal `json:"buyer"`
	Category      string           `json:"category"`
	AmountInsured int64            `json:"amount_insured"`
	Term          time.Duration    `json:"term"`
}

func (*PurchasePolicy) Kind() Kind { return KindPurchasePolicy }

type RenewPolicy struct {
	Header
	Caller    ledger.Principal `json:"caller"`
	PolicyID  uint64           `json:"policy_id"`
	ExtraTerm time.Duration    `json:"extra_term"`
}

func (*RenewPolicy) Kind() Kind { return KindRenewPolicy }

type TransferPolicy struct {
	Header
	Caller   ledger.Principal `json:"caller"`
	PolicyID uint64           `json:"policy_id"`
	From     ledger.Principal `json:"from"`
	To       ledger.Principal `json:"to"`
	Quantity int64            `json:"quantity"`
}

func (*TransferPolicy) Kind() Kind { return KindTransferPolicy }

type ExpirePolicy struct {
	Header
	PolicyID uint64 `json:"policy_id"`
}

func (*ExpirePolicy) Kind() Kind { return KindExpirePolicy }
