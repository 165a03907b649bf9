package policy

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/params"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// RiskPool is the slice of the pool the registry drives.
type RiskPool interface {
	CheckCapacity(amount int64) error
	CollectPremium(caller, payer ledger.Principal, amount int64) error
	ReserveForPolicy(caller ledger.Principal, amount int64) error
	ReleaseReserve(caller ledger.Principal, amount int64) error
}

// Registry issues policies and tracks their fractional holdings.
type Registry struct {
	pool   RiskPool
	params *params.Manager
	acl    *access.Table
	clock  capability.Clock
	logger zerolog.Logger

	policies map[uint64]*Policy
	holdings map[uint64]map[ledger.Principal]int64
	nextID   uint64
}

func NewRegistry(
	pool RiskPool,
	pm *params.Manager,
	acl *access.Table,
	clock capability.Clock,
	logger zerolog.Logger,
) *Registry {
	return &Registry{
		pool:     pool,
		params:   pm,
		acl:      acl,
		clock:    clock,
		logger:   logger,
		policies: make(map[uint64]*Policy),
		holdings: make(map[uint64]map[ledger.Principal]int64),
		nextID:   1,
	}
}

// Purchase prices, settles and mints a new policy to the buyer. A zero term
// selects the default term.
func (r *Registry) Purchase(buyer ledger.Principal, category string, amountInsured int64, term time.Duration) (Policy, error) {
	if !buyer.Valid() {
		return Policy{}, fmt.Errorf("%w: invalid principal %q", errs.ErrInvalidParameter, buyer)
	}

	rate, ok := r.params.PremiumRate(category)
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", errs.ErrInvalidRiskCategory, category)
	}
	if amountInsured <= 0 {
		return Policy{}, fmt.Errorf("%w: amount insured %d", errs.ErrInvalidAmount, amountInsured)
	}

	p := r.params.Current()
	if term == 0 {
		term = p.DefaultTerm
	}
	if term < p.MinTerm || term > p.MaxTerm {
		return Policy{}, fmt.Errorf("%w: %s outside [%s, %s]", errs.ErrInvalidTerm, term, p.MinTerm, p.MaxTerm)
	}

	premium := fpmath.ComputePremium(amountInsured, rate)

	if err := r.pool.CheckCapacity(amountInsured); err != nil {
		return Policy{}, err
	}
	if err := r.pool.CollectPremium(access.Registry, buyer, premium); err != nil {
		return Policy{}, err
	}
	if err := r.pool.ReserveForPolicy(access.Registry, amountInsured); err != nil {
		panic(fmt.Sprintf("FATAL: reserve after capacity check failed: %v", err))
	}

	now := r.clock.Now()
	pol := &Policy{
		ID:            r.nextID,
		Buyer:         buyer,
		Category:      category,
		AmountInsured: amountInsured,
		TotalQuantity: amountInsured,
		TermStart:     now,
		TermEnd:       now.Add(term),
		OriginalTerm:  term,
		PremiumPaid:   premium,
		Status:        StatusActive,
	}
	r.nextID++
	r.policies[pol.ID] = pol
	r.holdings[pol.ID] = map[ledger.Principal]int64{buyer: pol.TotalQuantity}

	r.logger.Info().
		Uint64("policy_id", pol.ID).
		Str("buyer", buyer.String()).
		Str("category", category).
		Int64("amount_insured", amountInsured).
		Int64("premium", premium).
		Time("term_end", pol.TermEnd).
		Msg("policy issued")

	return *pol, nil
}

// Renew extends an active policy's term. The extension is priced pro rata
// against the original term.
func (r *Registry) Renew(caller ledger.Principal, id uint64, extra time.Duration) (Policy, error) {
	pol, err := r.lookup(id)
	if err != nil {
		return Policy{}, err
	}
	if r.holdings[id][caller] <= 0 {
		return Policy{}, fmt.Errorf("%w: %s on policy %d", errs.ErrNotPolicyHolder, caller, id)
	}
	if pol.Status != StatusActive {
		return Policy{}, fmt.Errorf("%w: policy %d is %s", errs.ErrPolicyNotActive, id, pol.Status)
	}

	p := r.params.Current()
	now := r.clock.Now()
	if now.After(pol.TermEnd.Add(p.GracePeriod)) {
		return Policy{}, fmt.Errorf("%w: policy %d ended %s", errs.ErrPolicyExpired, id, pol.TermEnd.Format(time.RFC3339))
	}
	if extra <= 0 || extra > p.MaxTerm {
		return Policy{}, fmt.Errorf("%w: extension %s", errs.ErrInvalidTerm, extra)
	}

	rate, ok := r.params.PremiumRate(pol.Category)
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", errs.ErrInvalidRiskCategory, pol.Category)
	}
	premium := fpmath.ComputeProratedPremium(
		pol.AmountInsured, rate,
		int64(extra/time.Second), int64(pol.OriginalTerm/time.Second),
	)
	if premium <= 0 {
		return Policy{}, fmt.Errorf("%w: extension %s prices to zero", errs.ErrInvalidTerm, extra)
	}

	if err := r.pool.CollectPremium(access.Registry, caller, premium); err != nil {
		return Policy{}, err
	}

	pol.TermEnd = pol.TermEnd.Add(extra)
	pol.PremiumPaid += premium

	r.logger.Info().
		Uint64("policy_id", id).
		Int64("premium", premium).
		Time("term_end", pol.TermEnd).
		Msg("policy renewed")

	return *pol, nil
}

// Transfer moves quantity of a policy between holders. Only from may move
// their own holding.
func (r *Registry) Transfer(caller ledger.Principal, id uint64, from, to ledger.Principal, quantity int64) error {
	if caller != from {
		return fmt.Errorf("%w: %s may not transfer for %s", errs.ErrUnauthorized, caller, from)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", errs.ErrInvalidAmount, quantity)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: invalid principal %q", errs.ErrInvalidParameter, to)
	}
	if _, err := r.lookup(id); err != nil {
		return err
	}

	h := r.holdings[id]
	if h[from] < quantity {
		return fmt.Errorf("%w: %s holds %d of policy %d, transfer %d", errs.ErrInsufficientPolicyBalance, from, h[from], id, quantity)
	}
	if from == to {
		return nil
	}

	h[from] -= quantity
	if h[from] == 0 {
		delete(h, from)
	}
	h[to] += quantity
	return nil
}

// Expire closes a policy whose term has ended and releases the exposure not
// tied to approved claims. Expiring an Expired policy is a no-op.
func (r *Registry) Expire(id uint64) error {
	pol, err := r.lookup(id)
	if err != nil {
		return err
	}

	switch pol.Status {
	case StatusExpired:
		return nil
	case StatusClaimed:
		return fmt.Errorf("%w: policy %d is claimed", errs.ErrPolicyNotActive, id)
	}

	if pol.ActiveAt(r.clock.Now()) {
		return fmt.Errorf("%w: policy %d runs until %s", errs.ErrInvalidTerm, id, pol.TermEnd.Format(time.RFC3339))
	}

	release := pol.Remaining()
	if release > 0 {
		if err := r.pool.ReleaseReserve(access.Registry, release); err != nil {
			return err
		}
	}
	pol.Status = StatusExpired

	r.logger.Info().
		Uint64("policy_id", id).
		Int64("released", release).
		Int64("pending_payout", pol.PendingPayout).
		Msg("policy expired")
	return nil
}

// ReservePayout earmarks amount of an active policy for an approved claim.
func (r *Registry) ReservePayout(caller ledger.Principal, id uint64, amount int64) error {
	if err := r.acl.Check(access.OpPolicyPayout, caller); err != nil {
		return err
	}
	pol, err := r.lookup(id)
	if err != nil {
		return err
	}
	if !pol.ActiveAt(r.clock.Now()) {
		return fmt.Errorf("%w: policy %d is %s, term end %s", errs.ErrPolicyNotActive, id, pol.Status, pol.TermEnd.Format(time.RFC3339))
	}
	if amount <= 0 || amount > pol.Remaining() {
		return fmt.Errorf("%w: payout %d exceeds remaining %d on policy %d", errs.ErrInvalidAmount, amount, pol.Remaining(), id)
	}
	pol.PendingPayout += amount
	return nil
}

// CheckSettlePayout validates SettlePayout without applying it.
func (r *Registry) CheckSettlePayout(id uint64, amount int64) error {
	pol, err := r.lookup(id)
	if err != nil {
		return err
	}
	if amount <= 0 || amount > pol.PendingPayout {
		return fmt.Errorf("%w: settle %d against pending %d on policy %d", errs.ErrInvalidAmount, amount, pol.PendingPayout, id)
	}
	return nil
}

// SettlePayout books a paid claim against the policy. The policy becomes
// Claimed once its full amount has been paid.
func (r *Registry) SettlePayout(caller ledger.Principal, id uint64, amount int64) error {
	if err := r.acl.Check(access.OpPolicyPayout, caller); err != nil {
		return err
	}
	if err := r.CheckSettlePayout(id, amount); err != nil {
		return err
	}

	pol := r.policies[id]
	pol.PendingPayout -= amount
	pol.ClaimedAmount += amount
	if pol.ClaimedAmount == pol.AmountInsured {
		pol.Status = StatusClaimed
	}
	return nil
}

func (r *Registry) lookup(id uint64) (*Policy, error) {
	pol, ok := r.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", errs.ErrPolicyNotFound, id)
	}
	return pol, nil
}

// === Views ===

func (r *Registry) Get(id uint64) (Policy, error) {
	pol, err := r.lookup(id)
	if err != nil {
		return Policy{}, err
	}
	return *pol, nil
}

func (r *Registry) BalanceOf(id uint64, holder ledger.Principal) int64 {
	return r.holdings[id][holder]
}

// HoldingsOf lists a principal's policies in id order.
func (r *Registry) HoldingsOf(holder ledger.Principal) []Holding {
	var out []Holding
	for id, h := range r.holdings {
		if q := h[holder]; q > 0 {
			out = append(out, Holding{PolicyID: id, Holder: holder, Quantity: q})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PolicyID < out[j].PolicyID })
	return out
}

// Holders lists a policy's holders sorted by principal.
func (r *Registry) Holders(id uint64) []Holding {
	out := make([]Holding, 0, len(r.holdings[id]))
	for p, q := range r.holdings[id] {
		out = append(out, Holding{PolicyID: id, Holder: p, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Holder < out[j].Holder })
	return out
}

// ExpiredCandidates lists active policies past term end and grace at now.
// The sweep waits out the grace period so holders can still renew; an
// explicit Expire does not.
func (r *Registry) ExpiredCandidates(now time.Time) []uint64 {
	grace := r.params.Current().GracePeriod
	var out []uint64
	for id, pol := range r.policies {
		if pol.Status == StatusActive && now.After(pol.TermEnd.Add(grace)) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TotalExposure sums outstanding exposure over all policies.
func (r *Registry) TotalExposure() int64 {
	var total int64
	for _, pol := range r.policies {
		total += pol.Exposure()
	}
	return total
}

func (r *Registry) Count() int { return len(r.policies) }

// Validate checks registry invariants: holdings sum to total quantity and
// claimed policies have nothing left to claim.
func (r *Registry) Validate() error {
	for id, pol := range r.policies {
		var sum int64
		for holder, q := range r.holdings[id] {
			if q < 0 {
				return fmt.Errorf("policy %d holder %s has negative quantity %d", id, holder, q)
			}
			sum += q
		}
		if sum != pol.TotalQuantity {
			return fmt.Errorf("policy %d holdings %d != total quantity %d", id, sum, pol.TotalQuantity)
		}
		if pol.ClaimedAmount+pol.PendingPayout > pol.AmountInsured {
			return fmt.Errorf("policy %d claimed %d + pending %d > insured %d", id, pol.ClaimedAmount, pol.PendingPayout, pol.AmountInsured)
		}
		if pol.Status == StatusClaimed && pol.ClaimedAmount != pol.AmountInsured {
			return fmt.Errorf("policy %d is claimed with %d of %d paid", id, pol.ClaimedAmount, pol.AmountInsured)
		}
		if !pol.TermEnd.After(pol.TermStart) {
			return fmt.Errorf("policy %d term end not after start", id)
		}
	}
	return nil
}

// Snapshot is the registry state for persistence.
type Snapshot struct {
	Policies []Policy  `json:"policies"`
	Holdings []Holding `json:"holdings"`
	NextID   uint64    `json:"next_id"`
}

func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{NextID: r.nextID}
	ids := make([]uint64, 0, len(r.policies))
	for id := range r.policies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.Policies = append(s.Policies, *r.policies[id])
		s.Holdings = append(s.Holdings, r.Holders(id)...)
	}
	return s
}

func (r *Registry) Restore(s Snapshot) {
	r.policies = make(map[uint64]*Policy, len(s.Policies))
	r.holdings = make(map[uint64]map[ledger.Principal]int64, len(s.Policies))
	for i := range s.Policies {
		pol := s.Policies[i]
		r.policies[pol.ID] = &pol
		r.holdings[pol.ID] = make(map[ledger.Principal]int64)
	}
	for _, h := range s.Holdings {
		if m, ok := r.holdings[h.PolicyID]; ok {
			m[h.Holder] = h.Quantity
		}
	}
	r.nextID = s.NextID
	if r.nextID == 0 {
		r.nextID = 1
	}
}
