package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateShareSupply verifies Σ user shares == outstanding share supply
func (v *InvariantValidator) ValidateShareSupply() error {
	held := v.tracker.SumUserBalances(SubTypeShares, AssetShare)
	supply := v.tracker.GetTotalShares()

	if held != supply {
		return fmt.Errorf("share holdings %d != share supply %d", held, supply)
	}
	return nil
}

// ValidateTokenSupply verifies Σ governance balances == minted supply
func (v *InvariantValidator) ValidateTokenSupply() error {
	held := v.tracker.SumUserBalances(SubTypeVotes, AssetGov)
	supply := v.tracker.GetTokenSupply()

	if held != supply {
		return fmt.Errorf("token holdings %d != token supply %d", held, supply)
	}
	return nil
}

// ValidateAccountsNonNegative checks every user and pool account is >= 0
func (v *InvariantValidator) ValidateAccountsNonNegative() error {
	for key, balance := range v.tracker.balances {
		if key.AllowsNegative() {
			continue
		}
		if balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateAll runs every ledger-level invariant.
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateAccountsNonNegative(); err != nil {
		return err
	}
	if err := v.ValidateShareSupply(); err != nil {
		return err
	}
	if err := v.ValidateTokenSupply(); err != nil {
		return err
	}
	return v.ValidateGlobalBalance()
}
