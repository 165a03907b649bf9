package event

import (
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/oracle"
)

type RegisterSource struct {
	Header
	Caller    ledger.Principal `json:"caller"`
	Source    ledger.Principal `json:"source"`
	PublicKey []byte           `json:"public_key"`
}

func (*RegisterSource) Kind() Kind { return KindRegisterSource }

type RemoveSource struct {
	Header
	Caller ledger.Principal `json:"caller"`
	Source ledger.Principal `json:"source"`
}

func (*RemoveSource) Kind() Kind { return KindRemoveSource }

// SubmitAttestation carries one source's signed observation for a topic.
type SubmitAttestation struct {
	Header
	Source      ledger.Principal `json:"source"`
	Topic       string           `json:"topic"`
	PayloadHash oracle.Hash      `json:"payload_hash"`
	Signature   []byte           `json:"signature"`
}

func (*SubmitAttestation) Kind() Kind { return KindSubmitAttestation }
