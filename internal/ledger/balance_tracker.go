package ledger

import (
	"fmt"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === User Balance Queries ===

// GetUserShares returns the pool shares held by a principal
func (bt *BalanceTracker) GetUserShares(owner Principal) int64 {
	return bt.GetBalance(NewUserAccountKey(owner, SubTypeShares, AssetShare))
}

// GetUserRewards returns accrued-but-unclaimed rewards
func (bt *BalanceTracker) GetUserRewards(owner Principal) int64 {
	return bt.GetBalance(NewUserAccountKey(owner, SubTypeRewards, AssetStable))
}

// GetUserVotes returns the governance token balance
func (bt *BalanceTracker) GetUserVotes(owner Principal) int64 {
	return bt.GetBalance(NewUserAccountKey(owner, SubTypeVotes, AssetGov))
}

// === System Balance Queries ===

func (bt *BalanceTracker) GetPoolCapital() int64 {
	return bt.GetBalance(NewSystemAccountKey(SystemPool, SubTypeSystemPoolCapital, AssetStable))
}

// GetTotalShares returns outstanding shares (negated issuance account)
func (bt *BalanceTracker) GetTotalShares() int64 {
	return -bt.GetBalance(NewSystemAccountKey(SystemPool, SubTypeSystemShareSupply, AssetShare))
}

func (bt *BalanceTracker) GetRewardPool() int64 {
	return bt.GetBalance(NewSystemAccountKey(SystemPool, SubTypeSystemRewardPool, AssetStable))
}

func (bt *BalanceTracker) GetReserveFund() int64 {
	return bt.GetBalance(NewSystemAccountKey(SystemPool, SubTypeSystemReserveFund, AssetStable))
}

func (bt *BalanceTracker) GetTreasury() int64 {
	return bt.GetBalance(NewSystemAccountKey(SystemTreasury, SubTypeSystemTreasury, AssetStable))
}

// GetTokenSupply returns minted governance tokens (negated issuance account)
func (bt *BalanceTracker) GetTokenSupply() int64 {
	return -bt.GetBalance(NewSystemAccountKey(SystemToken, SubTypeSystemTokenSupply, AssetGov))
}

// === Invariant Checks ===

// ValidateSufficient checks if an account holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// SumUserBalances totals a user sub-type across all principals
func (bt *BalanceTracker) SumUserBalances(subType AccountSubType, assetID AssetID) int64 {
	var total int64
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.SubType == subType && key.AssetID == assetID {
			total += balance
		}
	}
	return total
}

// Holders returns principals with a non-zero balance of the given user sub-type
func (bt *BalanceTracker) Holders(subType AccountSubType, assetID AssetID) []Principal {
	var out []Principal
	for key, balance := range bt.balances {
		if key.Scope == AccountScopeUser && key.SubType == subType && key.AssetID == assetID && balance != 0 {
			out = append(out, key.Owner)
		}
	}
	return out
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances with a snapshot
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
