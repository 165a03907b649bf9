package query

import (
	"MutualLedger/internal/core"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	"MutualLedger/internal/governance"
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/observability"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/params"
	"MutualLedger/internal/payout"
	"MutualLedger/internal/persistence"
	"MutualLedger/internal/policy"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Reader is the engine's read surface.
type Reader interface {
	Read(fn func(v *core.View))
}

// Service answers read queries. Point lookups go to the engine under its
// lock and are always current; listings over history go to the record
// store and the command log, which trail the engine by one persistence
// batch.
type Service struct {
	engine  Reader
	records persistence.RecordStore
	db      *sql.DB // nil without Postgres; history queries are unavailable
	metrics *observability.Metrics
}

func NewService(engine Reader, records persistence.RecordStore, db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{engine: engine, records: records, db: db, metrics: metrics}
}

func amount(v int64) string { return fpmath.FormatAmount(v, fpmath.AmountConfig) }

// TotalLiquidity returns pool capital, exposure and the funds around them.
func (s *Service) TotalLiquidity(ctx context.Context) (out *LiquidityResponse, err error) {
	defer s.observe("total_liquidity", time.Now(), &err)

	s.engine.Read(func(v *core.View) {
		st := v.Pool.State()
		available := st.Capital - st.Exposure
		if available < 0 {
			available = 0
		}
		out = &LiquidityResponse{
			Capital:           amount(st.Capital),
			TotalShares:       fpmath.FormatAmount(st.TotalShares, fpmath.ShareConfig),
			SharePrice:        amount(st.SharePrice),
			Exposure:          amount(st.Exposure),
			Utilization:       fpmath.FormatRatio(st.Utilization),
			Available:         amount(available),
			ReserveFund:       amount(st.ReserveFund),
			ReserveRatio:      fpmath.FormatRatio(st.ReserveRatio),
			RewardPool:        amount(st.RewardPool),
			Treasury:          amount(st.Treasury),
			ReinsuranceActive: st.ReinsuranceActive,
			AsOfSequence:      v.Sequence,
		}
	})
	return out, nil
}

// UserLiquidity returns a provider's shares, their value and rewards.
func (s *Service) UserLiquidity(ctx context.Context, provider ledger.Principal) (out *ProviderResponse, err error) {
	defer s.observe("user_liquidity", time.Now(), &err)
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: provider %q", errs.ErrInvalidParameter, provider)
	}

	s.engine.Read(func(v *core.View) {
		acct := v.Pool.Account(provider)
		out = &ProviderResponse{
			Provider:       string(provider),
			Shares:         fpmath.FormatAmount(acct.Shares, fpmath.ShareConfig),
			Value:          amount(acct.Value),
			Rewards:        amount(acct.Rewards),
			PendingRewards: amount(acct.PendingRewards),
			LastAccrual:    acct.LastAccrual,
			Votes:          fpmath.FormatAmount(v.Governance.BalanceOf(provider), fpmath.TokenConfig),
			AsOfSequence:   v.Sequence,
		}
	})
	return out, nil
}

func (s *Service) APY(ctx context.Context) (out *APYResponse, err error) {
	defer s.observe("apy", time.Now(), &err)

	s.engine.Read(func(v *core.View) {
		out = &APYResponse{
			APY:          fpmath.FormatRatio(v.Pool.APY()),
			RewardRate:   fpmath.FormatRatio(v.Params.RewardRate),
			AsOfSequence: v.Sequence,
		}
	})
	return out, nil
}

// PolicyDetails returns a policy with its holder breakdown.
func (s *Service) PolicyDetails(ctx context.Context, id uint64) (out *PolicyResponse, err error) {
	defer s.observe("policy_details", time.Now(), &err)

	s.engine.Read(func(v *core.View) {
		var pol policy.Policy
		if pol, err = v.Registry.Get(id); err != nil {
			return
		}
		resp := policyResponse(pol, v.Sequence)
		for _, h := range v.Registry.Holders(id) {
			resp.Holders = append(resp.Holders, HoldingResponse{
				Holder:   string(h.Holder),
				Quantity: amount(h.Quantity),
			})
		}
		out = &resp
	})
	return out, err
}

// UserPolicies lists the policies holder owns any fraction of.
func (s *Service) UserPolicies(ctx context.Context, holder ledger.Principal) (out []PolicyResponse, err error) {
	defer s.observe("user_policies", time.Now(), &err)
	if !holder.Valid() {
		return nil, fmt.Errorf("%w: holder %q", errs.ErrInvalidParameter, holder)
	}

	s.engine.Read(func(v *core.View) {
		for _, h := range v.Registry.HoldingsOf(holder) {
			pol, gerr := v.Registry.Get(h.PolicyID)
			if gerr != nil {
				err = gerr
				return
			}
			resp := policyResponse(pol, v.Sequence)
			resp.HeldQuantity = amount(h.Quantity)
			out = append(out, resp)
		}
	})
	return out, err
}

func policyResponse(p policy.Policy, seq int64) PolicyResponse {
	return PolicyResponse{
		ID:            p.ID,
		Buyer:         string(p.Buyer),
		Category:      p.Category,
		AmountInsured: amount(p.AmountInsured),
		PremiumPaid:   amount(p.PremiumPaid),
		ClaimedAmount: amount(p.ClaimedAmount),
		PendingPayout: amount(p.PendingPayout),
		Remaining:     amount(p.Remaining()),
		TermStart:     p.TermStart,
		TermEnd:       p.TermEnd,
		Status:        p.Status.String(),
		AsOfSequence:  seq,
	}
}

// ClaimStatus returns a claim and the current verdict of its evidence topic.
func (s *Service) ClaimStatus(ctx context.Context, id uint64) (out *ClaimResponse, err error) {
	defer s.observe("claim_status", time.Now(), &err)

	s.engine.Read(func(v *core.View) {
		var c payout.Claim
		if c, err = v.Payout.Get(id); err != nil {
			return
		}
		resp := claimResponse(c, v.Oracle.Verdict(c.EvidenceTopic).Status.String(), v.Sequence)
		out = &resp
	})
	return out, err
}

// UserClaims lists claims filed by claimant.
func (s *Service) UserClaims(ctx context.Context, claimant ledger.Principal) (out []ClaimResponse, err error) {
	defer s.observe("user_claims", time.Now(), &err)

	s.engine.Read(func(v *core.View) {
		for _, c := range v.Payout.ClaimsOf(claimant) {
			out = append(out, claimResponse(c, v.Oracle.Verdict(c.EvidenceTopic).Status.String(), v.Sequence))
		}
	})
	return out, nil
}

func claimResponse(c payout.Claim, evidence string, seq int64) ClaimResponse {
	resp := ClaimResponse{
		ID:            c.ID,
		PolicyID:      c.PolicyID,
		Claimant:      string(c.Claimant),
		Amount:        amount(c.Amount),
		EvidenceTopic: c.EvidenceTopic,
		Evidence:      evidence,
		Status:        c.Status.String(),
		RejectReason:  c.RejectReason,
		SubmittedAt:   c.SubmittedAt,
		AsOfSequence:  seq,
	}
	if !c.DecidedAt.IsZero() {
		t := c.DecidedAt
		resp.DecidedAt = &t
	}
	if !c.PaidAt.IsZero() {
		t := c.PaidAt
		resp.PaidAt = &t
	}
	return resp
}

// ProposalDetails returns a proposal with tallies and its derived status.
func (s *Service) ProposalDetails(ctx context.Context, id uint64) (out *ProposalResponse, err error) {
	defer s.observe("proposal_details", time.Now(), &err)

	s.engine.Read(func(v *core.View) {
		var (
			prop   governance.Proposal
			status governance.Status
		)
		if prop, status, err = v.Governance.Get(id); err != nil {
			return
		}
		resp := proposalResponse(prop, status.String(), v.Sequence)
		out = &resp
	})
	return out, err
}

func proposalResponse(p governance.Proposal, status string, seq int64) ProposalResponse {
	return ProposalResponse{
		ID:           p.ID,
		Proposer:     string(p.Proposer),
		Change:       p.Change.String(),
		Description:  p.Description,
		VotesFor:     fpmath.FormatAmount(p.VotesFor, fpmath.TokenConfig),
		VotesAgainst: fpmath.FormatAmount(p.VotesAgainst, fpmath.TokenConfig),
		QuorumVotes:  fpmath.FormatAmount(p.QuorumVotes, fpmath.TokenConfig),
		Voters:       len(p.Receipts),
		StartTime:    p.StartTime,
		EndTime:      p.EndTime,
		Status:       status,
		AsOfSequence: seq,
	}
}

// TopicVerdict returns the oracle verdict for an evidence topic.
func (s *Service) TopicVerdict(ctx context.Context, topic string) (out *TopicResponse, err error) {
	defer s.observe("topic_verdict", time.Now(), &err)
	if topic == "" {
		return nil, fmt.Errorf("%w: empty topic", errs.ErrInvalidParameter)
	}

	s.engine.Read(func(v *core.View) {
		verdict := v.Oracle.Verdict(topic)
		resp := &TopicResponse{
			Topic:        topic,
			Status:       verdict.Status.String(),
			QuorumCount:  verdict.QuorumCount,
			Attestations: verdict.Attestations,
			FinalizedAt:  verdict.FinalizedAt,
			AsOfSequence: v.Sequence,
		}
		if verdict.Status == oracle.StatusVerified {
			resp.AgreedHash = verdict.AgreedHash.String()
		}
		for _, a := range v.Oracle.Attestations(topic) {
			resp.Sources = append(resp.Sources, string(a.Source))
		}
		out = resp
	})
	return out, nil
}

// Params returns the current protocol parameters.
func (s *Service) Params(ctx context.Context) (out params.Params, err error) {
	defer s.observe("params", time.Now(), &err)
	s.engine.Read(func(v *core.View) { out = v.Params })
	return out, nil
}

// === Record store listings ===

// ListClaims lists persisted claims, optionally filtered by status
// ("pending", "approved", "rejected", "paid").
func (s *Service) ListClaims(ctx context.Context, status string) (out []ClaimResponse, err error) {
	defer s.observe("list_claims", time.Now(), &err)

	seq := s.sequence()
	err = s.records.Iterate(ctx, event.RecordClaim, func(_ string, data []byte) error {
		var c payout.Claim
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		if status != "" && c.Status.String() != status {
			return nil
		}
		out = append(out, claimResponse(c, "", seq))
		return nil
	})
	return out, err
}

// ListProposals lists persisted proposals with the status recorded at their
// last change.
func (s *Service) ListProposals(ctx context.Context) (out []ProposalResponse, err error) {
	defer s.observe("list_proposals", time.Now(), &err)

	seq := s.sequence()
	err = s.records.Iterate(ctx, event.RecordProposal, func(_ string, data []byte) error {
		var rec core.ProposalRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = append(out, proposalResponse(rec.Proposal, rec.State, seq))
		return nil
	})
	return out, err
}

// === History (Postgres) ===

// ErrHistoryUnavailable is returned by history queries without a database.
var ErrHistoryUnavailable = fmt.Errorf("%w: history requires postgres", errs.ErrInvalidParameter)

// JournalHistory returns journals touching principal, newest first, with
// cursor pagination on sequence.
func (s *Service) JournalHistory(ctx context.Context, principal ledger.Principal, limit int, beforeSequence *int64) (out []JournalHistoryEntry, err error) {
	defer s.observe("journal_history", time.Now(), &err)
	if s.db == nil {
		return nil, ErrHistoryUnavailable
	}
	if !principal.Valid() {
		return nil, fmt.Errorf("%w: principal %q", errs.ErrInvalidParameter, principal)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	pattern := "user:" + escapeLike(string(principal)) + ":%"
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp_us
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{pattern}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e       JournalHistoryEntry
			assetID uint16
			amt     int64
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &assetID, &amt,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		e.Amount = amount(amt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// VerifyIntegrity re-runs the ledger invariants against live state and,
// with a database, checks the persisted hash chain for breaks.
func (s *Service) VerifyIntegrity(ctx context.Context) (out *IntegrityReport, err error) {
	defer s.observe("verify_integrity", time.Now(), &err)

	report := &IntegrityReport{}
	s.engine.Read(func(v *core.View) {
		if verr := ledger.NewInvariantValidator(v.Balances).ValidateAll(); verr != nil {
			report.InvariantErrors = append(report.InvariantErrors, verr.Error())
		}
		if verr := v.Registry.Validate(); verr != nil {
			report.InvariantErrors = append(report.InvariantErrors, verr.Error())
		}
		if v.Registry.TotalExposure() != v.Pool.Exposure() {
			report.InvariantErrors = append(report.InvariantErrors, fmt.Sprintf(
				"exposure mismatch: registry %d, pool %d", v.Registry.TotalExposure(), v.Pool.Exposure()))
		}
		report.StateHash = hex.EncodeToString(v.StateHash[:])
		report.AsOfSequence = v.Sequence
	})

	if s.db != nil {
		rows, err := s.db.QueryContext(ctx, `
			SELECT c.sequence
			FROM event_log.commands c
			JOIN event_log.commands p ON p.sequence = c.sequence - 1
			WHERE c.prev_hash <> p.state_hash
			ORDER BY c.sequence
			LIMIT 10
		`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				return nil, err
			}
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	report.IsHealthy = len(report.InvariantErrors) == 0 && len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

func (s *Service) sequence() (seq int64) {
	s.engine.Read(func(v *core.View) { seq = v.Sequence })
	return seq
}

func (s *Service) observe(endpoint string, start time.Time, err *error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = errs.Label(*err)
	}
	s.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
