package payout

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/policy"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

type Registry interface {
	Get(id uint64) (policy.Policy, error)
	BalanceOf(id uint64, holder ledger.Principal) int64
	ReservePayout(caller ledger.Principal, id uint64, amount int64) error
	CheckSettlePayout(id uint64, amount int64) error
	SettlePayout(caller ledger.Principal, id uint64, amount int64) error
}

type Pool interface {
	CheckPayOut(amount, releasedExposure int64) error
	PayOut(caller, to ledger.Principal, amount, releasedExposure int64) error
}

type Verdicts interface {
	Verdict(topic string) oracle.Verdict
}

// Engine turns verified oracle verdicts into claim payouts.
type Engine struct {
	registry Registry
	pool     Pool
	verdicts Verdicts
	clock    capability.Clock
	logger   zerolog.Logger

	claims map[uint64]*Claim
	nextID uint64
}

func NewEngine(registry Registry, pool Pool, verdicts Verdicts, clock capability.Clock, logger zerolog.Logger) *Engine {
	return &Engine{
		registry: registry,
		pool:     pool,
		verdicts: verdicts,
		clock:    clock,
		logger:   logger,
		claims:   make(map[uint64]*Claim),
		nextID:   1,
	}
}

// SubmitClaim opens a Pending claim against a policy the claimant holds.
func (e *Engine) SubmitClaim(policyID uint64, claimant ledger.Principal, amount int64, evidenceTopic string) (Claim, error) {
	if amount <= 0 {
		return Claim{}, fmt.Errorf("%w: claim %d", errs.ErrInvalidAmount, amount)
	}
	if evidenceTopic == "" {
		return Claim{}, fmt.Errorf("%w: empty evidence topic", errs.ErrInvalidParameter)
	}

	pol, err := e.registry.Get(policyID)
	if err != nil {
		return Claim{}, err
	}
	if e.registry.BalanceOf(policyID, claimant) <= 0 {
		return Claim{}, fmt.Errorf("%w: %s on policy %d", errs.ErrNotPolicyHolder, claimant, policyID)
	}
	if !pol.ActiveAt(e.clock.Now()) {
		return Claim{}, fmt.Errorf("%w: policy %d is %s, term end %s", errs.ErrPolicyNotActive, policyID, pol.Status, pol.TermEnd.Format(time.RFC3339))
	}

	c := &Claim{
		ID:            e.nextID,
		PolicyID:      policyID,
		Claimant:      claimant,
		Amount:        amount,
		EvidenceTopic: evidenceTopic,
		Status:        StatusPending,
		SubmittedAt:   e.clock.Now(),
	}
	e.nextID++
	e.claims[c.ID] = c

	e.logger.Info().
		Uint64("claim_id", c.ID).
		Uint64("policy_id", policyID).
		Str("claimant", claimant.String()).
		Int64("amount", amount).
		Str("topic", evidenceTopic).
		Msg("claim submitted")

	return *c, nil
}

// Evaluate moves a Pending claim once its evidence topic has a terminal
// verdict. Any other state is returned unchanged.
func (e *Engine) Evaluate(id uint64) (Claim, error) {
	c, err := e.lookup(id)
	if err != nil {
		return Claim{}, err
	}
	if c.Status != StatusPending {
		return *c, nil
	}

	v := e.verdicts.Verdict(c.EvidenceTopic)
	switch v.Status {
	case oracle.StatusInsufficient:
		return *c, nil
	case oracle.StatusDisputed:
		e.reject(c, ReasonDisputed)
		return *c, nil
	}

	pol, err := e.registry.Get(c.PolicyID)
	if err != nil {
		return Claim{}, err
	}

	switch {
	case !pol.ActiveAt(e.clock.Now()):
		e.reject(c, ReasonPolicyInactive)
	case c.Amount > pol.AmountInsured:
		e.reject(c, ReasonExceedsInsured)
	case pol.Remaining() <= 0:
		e.reject(c, ReasonFullyClaimed)
	case c.Amount > pol.Remaining():
		e.reject(c, ReasonExceedsCoverage)
	case c.Amount > e.unclaimedShare(pol, c.Claimant):
		e.reject(c, ReasonExceedsShare)
	default:
		if err := e.registry.ReservePayout(access.Payout, c.PolicyID, c.Amount); err != nil {
			return Claim{}, err
		}
		c.Status = StatusApproved
		c.DecidedAt = e.clock.Now()
		e.logger.Info().
			Uint64("claim_id", c.ID).
			Int64("amount", c.Amount).
			Msg("claim approved")
	}

	return *c, nil
}

// unclaimedShare is the claimant's pro rata part of the amount insured,
// by current quantity held, less their approved and paid claims on it.
func (e *Engine) unclaimedShare(pol policy.Policy, claimant ledger.Principal) int64 {
	share := fpmath.MulDiv(pol.AmountInsured, e.registry.BalanceOf(pol.ID, claimant), pol.TotalQuantity, fpmath.RoundDown)
	for _, c := range e.claims {
		if c.PolicyID != pol.ID || c.Claimant != claimant {
			continue
		}
		if c.Status == StatusApproved || c.Status == StatusPaid {
			share -= c.Amount
		}
	}
	return share
}

func (e *Engine) reject(c *Claim, reason string) {
	c.Status = StatusRejected
	c.RejectReason = reason
	c.DecidedAt = e.clock.Now()
	e.logger.Info().
		Uint64("claim_id", c.ID).
		Str("reason", reason).
		Msg("claim rejected")
}

// Execute pays an Approved claim: funds leave the pool, exposure is
// released and the policy books the claim, all in one step.
func (e *Engine) Execute(id uint64) (Claim, error) {
	c, err := e.lookup(id)
	if err != nil {
		return Claim{}, err
	}
	switch c.Status {
	case StatusPaid:
		return Claim{}, fmt.Errorf("%w: claim %d already paid", errs.ErrAlreadyExecuted, id)
	case StatusApproved:
	default:
		return Claim{}, fmt.Errorf("%w: claim %d is %s", errs.ErrClaimNotApproved, id, c.Status)
	}

	if err := e.registry.CheckSettlePayout(c.PolicyID, c.Amount); err != nil {
		return Claim{}, err
	}
	if err := e.pool.PayOut(access.Payout, c.Claimant, c.Amount, c.Amount); err != nil {
		return Claim{}, err
	}
	if err := e.registry.SettlePayout(access.Payout, c.PolicyID, c.Amount); err != nil {
		panic(fmt.Sprintf("FATAL: policy %d settle after payout failed: %v", c.PolicyID, err))
	}

	c.Status = StatusPaid
	c.PaidAt = e.clock.Now()

	e.logger.Info().
		Uint64("claim_id", c.ID).
		Uint64("policy_id", c.PolicyID).
		Str("claimant", c.Claimant.String()).
		Int64("amount", c.Amount).
		Msg("claim paid")

	return *c, nil
}

func (e *Engine) lookup(id uint64) (*Claim, error) {
	c, ok := e.claims[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrClaimNotFound, id)
	}
	return c, nil
}

// === Views ===

func (e *Engine) Get(id uint64) (Claim, error) {
	c, err := e.lookup(id)
	if err != nil {
		return Claim{}, err
	}
	return *c, nil
}

// PendingClaims lists claims awaiting a verdict, in id order.
func (e *Engine) PendingClaims() []uint64 {
	return e.idsWhere(func(c *Claim) bool { return c.Status == StatusPending })
}

// ClaimsOf lists a claimant's claims in id order.
func (e *Engine) ClaimsOf(claimant ledger.Principal) []Claim {
	ids := e.idsWhere(func(c *Claim) bool { return c.Claimant == claimant })
	out := make([]Claim, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.claims[id])
	}
	return out
}

// CountByStatus tallies claims per status.
func (e *Engine) CountByStatus() map[Status]int {
	out := make(map[Status]int, 4)
	for _, c := range e.claims {
		out[c.Status]++
	}
	return out
}

func (e *Engine) idsWhere(keep func(*Claim) bool) []uint64 {
	var out []uint64
	for id, c := range e.claims {
		if keep(c) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that approved and paid claims agree with each policy's
// pending and claimed amounts.
func (e *Engine) Validate() error {
	type totals struct{ approved, paid int64 }
	per := make(map[uint64]*totals)
	for _, c := range e.claims {
		t, ok := per[c.PolicyID]
		if !ok {
			t = &totals{}
			per[c.PolicyID] = t
		}
		switch c.Status {
		case StatusApproved:
			t.approved += c.Amount
		case StatusPaid:
			t.paid += c.Amount
		}
	}
	for id, t := range per {
		pol, err := e.registry.Get(id)
		if err != nil {
			return fmt.Errorf("claims reference missing policy %d", id)
		}
		if pol.PendingPayout != t.approved {
			return fmt.Errorf("policy %d pending %d != approved claims %d", id, pol.PendingPayout, t.approved)
		}
		if pol.ClaimedAmount != t.paid {
			return fmt.Errorf("policy %d claimed %d != paid claims %d", id, pol.ClaimedAmount, t.paid)
		}
	}
	return nil
}

type Snapshot struct {
	Claims []Claim `json:"claims"`
	NextID uint64  `json:"next_id"`
}

func (e *Engine) Snapshot() Snapshot {
	ids := e.idsWhere(func(*Claim) bool { return true })
	s := Snapshot{NextID: e.nextID, Claims: make([]Claim, 0, len(ids))}
	for _, id := range ids {
		s.Claims = append(s.Claims, *e.claims[id])
	}
	return s
}

func (e *Engine) Restore(s Snapshot) {
	e.claims = make(map[uint64]*Claim, len(s.Claims))
	for i := range s.Claims {
		c := s.Claims[i]
		e.claims[c.ID] = &c
	}
	e.nextID = s.NextID
	if e.nextID == 0 {
		e.nextID = 1
	}
}
