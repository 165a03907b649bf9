package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeShareMint
	JournalTypeShareBurn
	JournalTypePremiumToRewards
	JournalTypePremiumToReserve
	JournalTypePremiumToTreasury
	JournalTypeRewardAccrual
	JournalTypeRewardClaim
	JournalTypeClaimPayout
	JournalTypeTokenMint
	JournalTypeTokenTransfer
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeShareMint:
		return "share_mint"
	case JournalTypeShareBurn:
		return "share_burn"
	case JournalTypePremiumToRewards:
		return "premium_rewards"
	case JournalTypePremiumToReserve:
		return "premium_reserve"
	case JournalTypePremiumToTreasury:
		return "premium_treasury"
	case JournalTypeRewardAccrual:
		return "reward_accrual"
	case JournalTypeRewardClaim:
		return "reward_claim"
	case JournalTypeClaimPayout:
		return "claim_payout"
	case JournalTypeTokenMint:
		return "token_mint"
	case JournalTypeTokenTransfer:
		return "token_transfer"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Clock reading for the command (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from credit to debit, so every entry
// is balanced by construction; multi-leg operations use several entries
// under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves asset %d between mismatched accounts", j.JournalID, j.AssetID)
		}
	}

	return nil
}
