package params

import (
	"MutualLedger/internal/errs"
	"fmt"
	"time"
)

// ChangeKind names a governable parameter.
type ChangeKind string

const (
	ChangePremiumRate          ChangeKind = "premium_rate"
	ChangeWithdrawalCeiling    ChangeKind = "withdrawal_ceiling"
	ChangeCapacityCap          ChangeKind = "capacity_cap"
	ChangeReserveRatioTarget   ChangeKind = "reserve_ratio_target"
	ChangeReinsuranceThreshold ChangeKind = "reinsurance_threshold"
	ChangeRewardRate           ChangeKind = "reward_rate"
	ChangePremiumSplit         ChangeKind = "premium_split"
	ChangeOracleQuorum         ChangeKind = "oracle_quorum"
	ChangeDisputeThreshold     ChangeKind = "dispute_threshold"
	ChangeGracePeriod          ChangeKind = "grace_period"
	ChangeProposalThreshold    ChangeKind = "proposal_threshold"
	ChangeGovernanceQuorum     ChangeKind = "governance_quorum"
	ChangeVotingPeriod         ChangeKind = "voting_period"

	// Oracle allow-list changes are carried by proposals but applied to the
	// oracle aggregator, not to Params.
	ChangeAddSource    ChangeKind = "add_oracle_source"
	ChangeRemoveSource ChangeKind = "remove_oracle_source"
)

// Change is one proposed parameter update. Durations are in seconds.
type Change struct {
	Kind      ChangeKind `json:"kind"`
	Category  string     `json:"category,omitempty"`
	Value     int64      `json:"value,omitempty"`
	Split     *Split     `json:"split,omitempty"`
	Source    string     `json:"source,omitempty"`
	PublicKey []byte     `json:"public_key,omitempty"`
}

// IsSourceChange reports whether c targets the oracle allow-list.
func (c Change) IsSourceChange() bool {
	return c.Kind == ChangeAddSource || c.Kind == ChangeRemoveSource
}

func (c Change) String() string {
	switch c.Kind {
	case ChangePremiumRate:
		return fmt.Sprintf("%s[%s]=%d", c.Kind, c.Category, c.Value)
	case ChangePremiumSplit:
		if c.Split != nil {
			return fmt.Sprintf("%s=%d/%d/%d", c.Kind, c.Split.Rewards, c.Split.Reserve, c.Split.Treasury)
		}
	case ChangeAddSource, ChangeRemoveSource:
		return fmt.Sprintf("%s=%s", c.Kind, c.Source)
	}
	return fmt.Sprintf("%s=%d", c.Kind, c.Value)
}

func (c Change) applyTo(cur Params) (Params, error) {
	next := cur.Clone()

	switch c.Kind {
	case ChangePremiumRate:
		if c.Category == "" {
			return cur, fmt.Errorf("%w: premium_rate requires a category", errs.ErrInvalidParameter)
		}
		next.PremiumRates[c.Category] = c.Value
	case ChangeWithdrawalCeiling:
		next.WithdrawalCeiling = c.Value
	case ChangeCapacityCap:
		next.CapacityCap = c.Value
	case ChangeReserveRatioTarget:
		next.ReserveRatioTarget = c.Value
	case ChangeReinsuranceThreshold:
		next.ReinsuranceThreshold = c.Value
	case ChangeRewardRate:
		next.RewardRate = c.Value
	case ChangePremiumSplit:
		if c.Split == nil {
			return cur, fmt.Errorf("%w: premium_split requires a split", errs.ErrInvalidParameter)
		}
		next.PremiumSplit = *c.Split
	case ChangeOracleQuorum:
		next.OracleQuorum = c.Value
	case ChangeDisputeThreshold:
		next.DisputeThreshold = c.Value
	case ChangeGracePeriod:
		next.GracePeriod = time.Duration(c.Value) * time.Second
	case ChangeProposalThreshold:
		next.ProposalThreshold = c.Value
	case ChangeGovernanceQuorum:
		next.GovernanceQuorum = c.Value
	case ChangeVotingPeriod:
		next.VotingPeriod = time.Duration(c.Value) * time.Second
	case ChangeAddSource:
		if c.Source == "" || len(c.PublicKey) == 0 {
			return cur, fmt.Errorf("%w: add_oracle_source requires source and public key", errs.ErrInvalidParameter)
		}
		return cur, nil
	case ChangeRemoveSource:
		if c.Source == "" {
			return cur, fmt.Errorf("%w: remove_oracle_source requires a source", errs.ErrInvalidParameter)
		}
		return cur, nil
	default:
		return cur, fmt.Errorf("%w: unknown change kind %q", errs.ErrInvalidParameter, c.Kind)
	}

	if err := next.Validate(); err != nil {
		return cur, fmt.Errorf("%w: %v", errs.ErrInvalidParameter, err)
	}
	return next, nil
}
