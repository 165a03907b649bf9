package event

import (
	"time"
)

// Kind discriminates command payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposit
	KindWithdraw
	KindAccrueRewards
	KindClaimRewards
	KindPurchasePolicy
	KindRenewPolicy
	KindTransferPolicy
	KindExpirePolicy
	KindRegisterSource
	KindRemoveSource
	KindSubmitAttestation
	KindSubmitClaim
	KindEvaluateClaim
	KindExecuteClaim
	KindMintTokens
	KindTransferTokens
	KindCreateProposal
	KindVote
	KindExecuteProposal
)

var kindNames = map[Kind]string{
	KindDeposit:           "Deposit",
	KindWithdraw:          "Withdraw",
	KindAccrueRewards:     "AccrueRewards",
	KindClaimRewards:      "ClaimRewards",
	KindPurchasePolicy:    "PurchasePolicy",
	KindRenewPolicy:       "RenewPolicy",
	KindTransferPolicy:    "TransferPolicy",
	KindExpirePolicy:      "ExpirePolicy",
	KindRegisterSource:    "RegisterSource",
	KindRemoveSource:      "RemoveSource",
	KindSubmitAttestation: "SubmitAttestation",
	KindSubmitClaim:       "SubmitClaim",
	KindEvaluateClaim:     "EvaluateClaim",
	KindExecuteClaim:      "ExecuteClaim",
	KindMintTokens:        "MintTokens",
	KindTransferTokens:    "TransferTokens",
	KindCreateProposal:    "CreateProposal",
	KindVote:              "Vote",
	KindExecuteProposal:   "ExecuteProposal",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindUnknown, false
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindNames))
	for k := KindDeposit; k <= KindExecuteProposal; k++ {
		out = append(out, k)
	}
	return out
}

// Command is implemented by every operation the engine accepts.
type Command interface {
	// RequestID is the caller-chosen dedup key
	RequestID() string

	Kind() Kind
}

// Header carries the request id shared by all commands.
type Header struct {
	ID string `json:"request_id"`
}

func (h Header) RequestID() string { return h.ID }

// Envelope wraps every applied command in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	RequestID string
	Kind      Kind

	// Clock reading the command was applied under
	Timestamp time.Time

	// JSON-encoded command
	Payload []byte

	// JSON-encoded result
	Result []byte

	// SHA-256 of state after applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Record is a keyed entity snapshot written through to the record store.
type Record struct {
	Kind string
	ID   string
	Data []byte
}

// Record kinds
const (
	RecordPool     = "pool"
	RecordAccount  = "account"
	RecordPolicy   = "policy"
	RecordClaim    = "claim"
	RecordTopic    = "topic"
	RecordProposal = "proposal"
	RecordParams   = "params"
	RecordSource   = "source"
)
