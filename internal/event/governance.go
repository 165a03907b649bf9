package event

import (
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/params"
)

type MintTokens struct {
	Header
	Caller ledger.Principal `json:"caller"`
	To     ledger.Principal `json:"to"`
	Amount int64            `json:"amount"`
}

func (*MintTokens) Kind() Kind { return KindMintTokens }

type TransferTokens struct {
	Header
	From   ledger.Principal `json:"from"`
	To     ledger.Principal `json:"to"`
	Amount int64            `json:"amount"`
}

func (*TransferTokens) Kind() Kind { return KindTransferTokens }

type CreateProposal struct {
	Header
	Proposer    ledger.Principal `json:"proposer"`
	Change      params.Change    `json:"change"`
	Description string           `json:"description"`
}

func (*CreateProposal) Kind() Kind { return KindCreateProposal }

type Vote struct {
	Header
	ProposalID uint64           `json:"proposal_id"`
	Voter      ledger.Principal `json:"voter"`
	Support    bool             `json:"support"`
}

func (*Vote) Kind() Kind { return KindVote }

type ExecuteProposal struct {
	Header
	ProposalID uint64 `json:"proposal_id"`
}

func (*ExecuteProposal) Kind() Kind { return KindExecuteProposal }
