package governance

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/params"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// SourceRegistry applies oracle allow-list changes.
type SourceRegistry interface {
	RegisterSource(caller, source ledger.Principal, publicKey []byte) error
	RemoveSource(caller, source ledger.Principal) error
}

// Underwriting is the pool's current load, checked before the capacity cap
// is lowered.
type Underwriting interface {
	Utilization() int64
}

// Governance runs the token-weighted proposal process. Token balances are
// held in the ledger store under the GOV asset.
type Governance struct {
	store   *ledger.Store
	params  *params.Manager
	sources SourceRegistry
	pool    Underwriting
	acl     *access.Table
	clock   capability.Clock
	logger  zerolog.Logger

	proposals map[uint64]*Proposal
	nextID    uint64
}

func New(
	store *ledger.Store,
	pm *params.Manager,
	sources SourceRegistry,
	pool Underwriting,
	acl *access.Table,
	clock capability.Clock,
	logger zerolog.Logger,
) *Governance {
	return &Governance{
		store:     store,
		params:    pm,
		sources:   sources,
		pool:      pool,
		acl:       acl,
		clock:     clock,
		logger:    logger,
		proposals: make(map[uint64]*Proposal),
		nextID:    1,
	}
}

// === Token ledger ===

// Mint issues governance tokens (genesis allocation).
func (g *Governance) Mint(caller, to ledger.Principal, amount int64) error {
	if err := g.acl.Check(access.OpMintTokens, caller); err != nil {
		return err
	}
	if !to.Valid() {
		return fmt.Errorf("%w: invalid principal %q", errs.ErrInvalidParameter, to)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: mint %d", errs.ErrInvalidAmount, amount)
	}
	if _, ok := fpmath.AddChecked(g.TotalSupply(), amount); !ok {
		return fmt.Errorf("%w: mint %d overflows supply", errs.ErrInvalidAmount, amount)
	}
	g.mustPost(g.store.Journals().GenerateTokenMint(to, amount))
	return nil
}

func (g *Governance) Transfer(from, to ledger.Principal, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer %d", errs.ErrInvalidAmount, amount)
	}
	if !to.Valid() || from == to {
		return fmt.Errorf("%w: invalid recipient %q", errs.ErrInvalidParameter, to)
	}
	if bal := g.BalanceOf(from); bal < amount {
		return fmt.Errorf("%w: %s holds %d, transfer %d", errs.ErrInsufficientBalance, from, bal, amount)
	}
	g.mustPost(g.store.Journals().GenerateTokenTransfer(from, to, amount))
	return nil
}

func (g *Governance) BalanceOf(p ledger.Principal) int64 {
	return g.store.Balances().GetUserVotes(p)
}

func (g *Governance) TotalSupply() int64 {
	return g.store.Balances().GetTokenSupply()
}

// === Proposals ===

// CreateProposal opens a vote on change. The change must be applicable to
// the current parameters.
func (g *Governance) CreateProposal(proposer ledger.Principal, change params.Change, description string) (Proposal, error) {
	p := g.params.Current()
	supply := g.TotalSupply()
	balance := g.BalanceOf(proposer)
	threshold := fpmath.ApplyRatio(supply, p.ProposalThreshold)

	if balance <= 0 || balance < threshold {
		return Proposal{}, fmt.Errorf("%w: %s holds %d, threshold %d", errs.ErrInsufficientProposalPower, proposer, balance, threshold)
	}
	if err := g.params.Validate(change); err != nil {
		return Proposal{}, err
	}

	now := g.clock.Now()
	prop := &Proposal{
		ID:          g.nextID,
		Proposer:    proposer,
		Change:      change,
		Description: description,
		QuorumVotes: fpmath.MulDiv(supply, p.GovernanceQuorum, fpmath.OneHundredPercent, fpmath.RoundUp),
		Receipts:    make(map[ledger.Principal]Receipt),
		StartTime:   now,
		EndTime:     now.Add(p.VotingPeriod),
	}
	g.nextID++
	g.proposals[prop.ID] = prop

	g.logger.Info().
		Uint64("proposal_id", prop.ID).
		Str("proposer", proposer.String()).
		Str("change", change.String()).
		Time("end_time", prop.EndTime).
		Msg("proposal created")

	return prop.clone(), nil
}

// Vote records voter's current token balance for or against a proposal.
// The weight is fixed at vote time. Balances are not snapshotted at
// creation, so tokens transferred after voting can vote again from the
// receiving principal.
func (g *Governance) Vote(id uint64, voter ledger.Principal, support bool) (Receipt, error) {
	prop, err := g.lookup(id)
	if err != nil {
		return Receipt{}, err
	}
	if prop.StatusAt(g.clock.Now()) != StatusActive {
		return Receipt{}, fmt.Errorf("%w: proposal %d ended %s", errs.ErrProposalNotActive, id, prop.EndTime)
	}
	if _, voted := prop.Receipts[voter]; voted {
		return Receipt{}, fmt.Errorf("%w: %s on proposal %d", errs.ErrAlreadyVoted, voter, id)
	}

	weight := g.BalanceOf(voter)
	if weight <= 0 {
		return Receipt{}, fmt.Errorf("%w: %s has no voting power", errs.ErrInsufficientBalance, voter)
	}

	r := Receipt{Support: support, Weight: weight}
	prop.Receipts[voter] = r
	if support {
		prop.VotesFor += weight
	} else {
		prop.VotesAgainst += weight
	}
	return r, nil
}

// Execute applies a passed proposal's change exactly once.
func (g *Governance) Execute(id uint64) (Proposal, error) {
	prop, err := g.lookup(id)
	if err != nil {
		return Proposal{}, err
	}
	if prop.Executed {
		return Proposal{}, fmt.Errorf("%w: proposal %d", errs.ErrAlreadyExecuted, id)
	}
	if st := prop.StatusAt(g.clock.Now()); st != StatusPassed {
		return Proposal{}, fmt.Errorf("%w: proposal %d is %s", errs.ErrProposalNotPassed, id, st)
	}

	if err := g.apply(prop.Change); err != nil {
		return Proposal{}, err
	}

	prop.Executed = true
	prop.ExecutedAt = g.clock.Now()

	g.logger.Info().
		Uint64("proposal_id", id).
		Str("change", prop.Change.String()).
		Int64("votes_for", prop.VotesFor).
		Int64("votes_against", prop.VotesAgainst).
		Msg("proposal executed")

	return prop.clone(), nil
}

func (g *Governance) apply(c params.Change) error {
	switch c.Kind {
	case params.ChangeAddSource:
		return g.sources.RegisterSource(access.Governance, ledger.Principal(c.Source), c.PublicKey)
	case params.ChangeRemoveSource:
		return g.sources.RemoveSource(access.Governance, ledger.Principal(c.Source))
	case params.ChangeCapacityCap:
		if util := g.pool.Utilization(); util > c.Value {
			return fmt.Errorf("%w: capacity cap %s is below current utilization %s",
				errs.ErrCapacityExceeded, fpmath.FormatRatio(c.Value), fpmath.FormatRatio(util))
		}
		return g.params.Apply(c)
	default:
		return g.params.Apply(c)
	}
}

func (g *Governance) lookup(id uint64) (*Proposal, error) {
	prop, ok := g.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrProposalNotFound, id)
	}
	return prop, nil
}

func (g *Governance) mustPost(batch *ledger.Batch, err error) {
	if err := g.store.Post(batch, err); err != nil {
		panic(fmt.Sprintf("FATAL: governance ledger post rejected after checks: %v", err))
	}
}

// === Views ===

func (g *Governance) Get(id uint64) (Proposal, Status, error) {
	prop, err := g.lookup(id)
	if err != nil {
		return Proposal{}, 0, err
	}
	return prop.clone(), prop.StatusAt(g.clock.Now()), nil
}

// List returns all proposals in id order.
func (g *Governance) List() []Proposal {
	ids := make([]uint64, 0, len(g.proposals))
	for id := range g.proposals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Proposal, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.proposals[id].clone())
	}
	return out
}

// Validate checks that recorded receipts add up to each proposal's tallies.
func (g *Governance) Validate() error {
	for id, prop := range g.proposals {
		var yes, no int64
		for _, r := range prop.Receipts {
			if r.Support {
				yes += r.Weight
			} else {
				no += r.Weight
			}
		}
		if yes != prop.VotesFor || no != prop.VotesAgainst {
			return fmt.Errorf("proposal %d tallies %d/%d != receipts %d/%d", id, prop.VotesFor, prop.VotesAgainst, yes, no)
		}
	}
	return nil
}

type Snapshot struct {
	Proposals []Proposal `json:"proposals"`
	NextID    uint64     `json:"next_id"`
}

func (g *Governance) Snapshot() Snapshot {
	return Snapshot{Proposals: g.List(), NextID: g.nextID}
}

func (g *Governance) Restore(s Snapshot) {
	g.proposals = make(map[uint64]*Proposal, len(s.Proposals))
	for i := range s.Proposals {
		prop := s.Proposals[i].clone()
		g.proposals[prop.ID] = &prop
	}
	g.nextID = s.NextID
	if g.nextID == 0 {
		g.nextID = 1
	}
}
