package event

import (
	"encoding/json"
	"fmt"
)

var constructors = map[Kind]func() Command{
	KindDeposit:           func() Command { return &Deposit{} },
	KindWithdraw:          func() Command { return &Withdraw{} },
	KindAccrueRewards:     func() Command { return &AccrueRewards{} },
	KindClaimRewards:      func() Command { return &ClaimRewards{} },
	KindPurchasePolicy:    func() Command { return &PurchasePolicy{} },
	KindRenewPolicy:       func() Command { return &RenewPolicy{} },
	KindTransferPolicy:    func() Command { return &TransferPolicy{} },
	KindExpirePolicy:      func() Command { return &ExpirePolicy{} },
	KindRegisterSource:    func() Command { return &RegisterSource{} },
	KindRemoveSource:      func() Command { return &RemoveSource{} },
	KindSubmitAttestation: func() Command { return &SubmitAttestation{} },
	KindSubmitClaim:       func() Command { return &SubmitClaim{} },
	KindEvaluateClaim:     func() Command { return &EvaluateClaim{} },
	KindExecuteClaim:      func() Command { return &ExecuteClaim{} },
	KindMintTokens:        func() Command { return &MintTokens{} },
	KindTransferTokens:    func() Command { return &TransferTokens{} },
	KindCreateProposal:    func() Command { return &CreateProposal{} },
	KindVote:              func() Command { return &Vote{} },
	KindExecuteProposal:   func() Command { return &ExecuteProposal{} },
}

// New returns an empty command of the given kind.
func New(k Kind) (Command, bool) {
	ctor, ok := constructors[k]
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Decode unmarshals a JSON-encoded command of kind k, as stored in
// Envelope.Payload.
func Decode(k Kind, data []byte) (Command, error) {
	cmd, ok := New(k)
	if !ok {
		return nil, fmt.Errorf("unknown command kind %d", k)
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return cmd, nil
}
