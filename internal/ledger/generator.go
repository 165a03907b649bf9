package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for ledger operations.
// Every batch produced between two Begin calls carries the same event
// reference, sequence and timestamp.
type JournalGenerator struct {
	sequence       int64
	eventRef       string
	timestamp      int64
	balanceTracker *BalanceTracker // for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Begin stamps subsequent batches with the command that produced them.
func (jg *JournalGenerator) Begin(eventRef string, sequence, timestamp int64) {
	jg.eventRef = eventRef
	jg.sequence = sequence
	jg.timestamp = timestamp
}

// Sequence returns the sequence of the current command.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

type leg struct {
	debit  AccountKey
	credit AccountKey
	amount int64
	kind   JournalType
}

func (jg *JournalGenerator) build(legs ...leg) *Batch {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  jg.eventRef,
		Sequence:  jg.sequence,
		Timestamp: jg.timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}

	for _, l := range legs {
		// Zero legs arise from rounding (e.g. a 0% premium split).
		if l.amount == 0 {
			continue
		}
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      jg.eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  l.debit,
			CreditAccount: l.credit,
			AssetID:       l.debit.AssetID,
			Amount:        l.amount,
			JournalType:   l.kind,
			Timestamp:     jg.timestamp,
		})
	}

	return batch
}

var (
	poolCapital  = NewSystemAccountKey(SystemPool, SubTypeSystemPoolCapital, AssetStable)
	shareSupply  = NewSystemAccountKey(SystemPool, SubTypeSystemShareSupply, AssetShare)
	rewardPool   = NewSystemAccountKey(SystemPool, SubTypeSystemRewardPool, AssetStable)
	reserveFund  = NewSystemAccountKey(SystemPool, SubTypeSystemReserveFund, AssetStable)
	treasury     = NewSystemAccountKey(SystemTreasury, SubTypeSystemTreasury, AssetStable)
	tokenSupply  = NewSystemAccountKey(SystemToken, SubTypeSystemTokenSupply, AssetGov)
	extDeposits  = NewExternalAccountKey(SubTypeExternalDeposits, AssetStable)
	extWithdraw  = NewExternalAccountKey(SubTypeExternalWithdrawals, AssetStable)
	extPremiums  = NewExternalAccountKey(SubTypeExternalPremiums, AssetStable)
	extPayouts   = NewExternalAccountKey(SubTypeExternalPayouts, AssetStable)
	extRewardOut = NewExternalAccountKey(SubTypeExternalRewardPayouts, AssetStable)
)

// GenerateDeposit records capital entering the pool and shares minted to the
// provider.
//
//	external:deposits → system:pool:capital
//	system:pool:share_supply → user:shares
func (jg *JournalGenerator) GenerateDeposit(provider Principal, amount, shares int64) (*Batch, error) {
	if amount <= 0 || shares <= 0 {
		return nil, fmt.Errorf("deposit requires positive amount and shares: amount=%d shares=%d", amount, shares)
	}

	return jg.build(
		leg{poolCapital, extDeposits, amount, JournalTypeDeposit},
		leg{NewUserAccountKey(provider, SubTypeShares, AssetShare), shareSupply, shares, JournalTypeShareMint},
	), nil
}

// GenerateWithdrawal burns shares and releases capital.
//
//	system:pool:capital → external:withdrawals
//	user:shares → system:pool:share_supply
func (jg *JournalGenerator) GenerateWithdrawal(provider Principal, amount, shares int64) (*Batch, error) {
	if amount <= 0 || shares <= 0 {
		return nil, fmt.Errorf("withdrawal requires positive amount and shares: amount=%d shares=%d", amount, shares)
	}

	userShares := NewUserAccountKey(provider, SubTypeShares, AssetShare)
	if err := jg.balanceTracker.ValidateSufficient(userShares, shares); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}
	if err := jg.balanceTracker.ValidateSufficient(poolCapital, amount); err != nil {
		return nil, fmt.Errorf("withdrawal pre-check failed: %w", err)
	}

	return jg.build(
		leg{extWithdraw, poolCapital, amount, JournalTypeWithdrawal},
		leg{shareSupply, userShares, shares, JournalTypeShareBurn},
	), nil
}

// GeneratePremium splits a collected premium across the reward pool, the
// reserve fund and the treasury. Pool capital is untouched.
func (jg *JournalGenerator) GeneratePremium(toRewards, toReserve, toTreasury int64) (*Batch, error) {
	if toRewards < 0 || toReserve < 0 || toTreasury < 0 || toRewards+toReserve+toTreasury <= 0 {
		return nil, fmt.Errorf("invalid premium split: rewards=%d reserve=%d treasury=%d", toRewards, toReserve, toTreasury)
	}

	return jg.build(
		leg{rewardPool, extPremiums, toRewards, JournalTypePremiumToRewards},
		leg{reserveFund, extPremiums, toReserve, JournalTypePremiumToReserve},
		leg{treasury, extPremiums, toTreasury, JournalTypePremiumToTreasury},
	), nil
}

// GenerateRewardAccrual allocates rewards from the reward pool to a provider.
func (jg *JournalGenerator) GenerateRewardAccrual(provider Principal, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reward accrual must be positive: %d", amount)
	}
	if err := jg.balanceTracker.ValidateSufficient(rewardPool, amount); err != nil {
		return nil, fmt.Errorf("reward accrual pre-check failed: %w", err)
	}

	return jg.build(
		leg{NewUserAccountKey(provider, SubTypeRewards, AssetStable), rewardPool, amount, JournalTypeRewardAccrual},
	), nil
}

// GenerateRewardClaim pays out a provider's accrued rewards.
func (jg *JournalGenerator) GenerateRewardClaim(provider Principal, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("reward claim must be positive: %d", amount)
	}

	rewards := NewUserAccountKey(provider, SubTypeRewards, AssetStable)
	if err := jg.balanceTracker.ValidateSufficient(rewards, amount); err != nil {
		return nil, fmt.Errorf("reward claim pre-check failed: %w", err)
	}

	return jg.build(
		leg{extRewardOut, rewards, amount, JournalTypeRewardClaim},
	), nil
}

// GeneratePayout releases pool capital to settle an approved claim.
func (jg *JournalGenerator) GeneratePayout(amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payout must be positive: %d", amount)
	}
	if err := jg.balanceTracker.ValidateSufficient(poolCapital, amount); err != nil {
		return nil, fmt.Errorf("payout pre-check failed: %w", err)
	}

	return jg.build(
		leg{extPayouts, poolCapital, amount, JournalTypeClaimPayout},
	), nil
}

// GenerateTokenMint issues governance tokens to a holder.
func (jg *JournalGenerator) GenerateTokenMint(holder Principal, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("token mint must be positive: %d", amount)
	}

	return jg.build(
		leg{NewUserAccountKey(holder, SubTypeVotes, AssetGov), tokenSupply, amount, JournalTypeTokenMint},
	), nil
}

// GenerateTokenTransfer moves governance tokens between holders.
func (jg *JournalGenerator) GenerateTokenTransfer(from, to Principal, amount int64) (*Batch, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("token transfer must be positive: %d", amount)
	}
	if from == to {
		return nil, fmt.Errorf("token transfer to self: %s", from)
	}

	src := NewUserAccountKey(from, SubTypeVotes, AssetGov)
	if err := jg.balanceTracker.ValidateSufficient(src, amount); err != nil {
		return nil, fmt.Errorf("token transfer pre-check failed: %w", err)
	}

	return jg.build(
		leg{NewUserAccountKey(to, SubTypeVotes, AssetGov), src, amount, JournalTypeTokenTransfer},
	), nil
}
