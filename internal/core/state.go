package core

import (
	"MutualLedger/internal/event"
	"MutualLedger/internal/governance"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/params"
	"MutualLedger/internal/payout"
	"MutualLedger/internal/policy"
	"MutualLedger/internal/pool"
	"fmt"
	"strconv"
)

// === Entity records ===

// PoolRecord is the pool view written on every command.
type PoolRecord struct {
	pool.State
	APY int64 `json:"apy"`
}

// AccountRecord is a principal's pool position plus voting balance.
type AccountRecord struct {
	pool.Account
	Votes int64 `json:"votes"`
}

type PolicyRecord struct {
	policy.Policy
	Holders []policy.Holding `json:"holders"`
}

type TopicRecord struct {
	Verdict      oracle.Verdict       `json:"verdict"`
	Attestations []oracle.Attestation `json:"attestations"`
}

type ProposalRecord struct {
	governance.Proposal
	State string `json:"state"`
}

type SourceRecord struct {
	Source     ledger.Principal `json:"source"`
	Registered bool             `json:"registered"`
}

// touchedRecords lists the entities a successful command changed.
func (e *Engine) touchedRecords(cmd event.Command, value any) []event.Record {
	records := []event.Record{e.poolRecord()}

	switch c := cmd.(type) {
	case *event.Deposit:
		records = append(records, e.accountRecord(c.Provider))
	case *event.Withdraw:
		records = append(records, e.accountRecord(c.Provider))
	case *event.AccrueRewards:
		records = append(records, e.accountRecord(c.Provider))
	case *event.ClaimRewards:
		records = append(records, e.accountRecord(c.Provider))

	case *event.PurchasePolicy:
		records = append(records, e.policyRecord(value.(policy.Policy).ID))
	case *event.RenewPolicy:
		records = append(records, e.policyRecord(c.PolicyID))
	case *event.TransferPolicy:
		records = append(records, e.policyRecord(c.PolicyID))
	case *event.ExpirePolicy:
		records = append(records, e.policyRecord(c.PolicyID))

	case *event.RegisterSource:
		records = append(records, e.sourceRecord(c.Source))
	case *event.RemoveSource:
		records = append(records, e.sourceRecord(c.Source))
	case *event.SubmitAttestation:
		records = append(records, e.topicRecord(c.Topic))

	case *event.SubmitClaim, *event.EvaluateClaim, *event.ExecuteClaim:
		claim := value.(payout.Claim)
		records = append(records,
			record(event.RecordClaim, idString(claim.ID), claim),
			e.policyRecord(claim.PolicyID),
		)

	case *event.MintTokens:
		records = append(records, e.accountRecord(c.To))
	case *event.TransferTokens:
		records = append(records, e.accountRecord(c.From), e.accountRecord(c.To))
	case *event.CreateProposal:
		records = append(records, e.proposalRecord(value.(governance.Proposal).ID))
	case *event.Vote:
		records = append(records, e.proposalRecord(c.ProposalID))
	case *event.ExecuteProposal:
		prop := value.(governance.Proposal)
		records = append(records, e.proposalRecord(prop.ID))
		if prop.Change.IsSourceChange() {
			records = append(records, e.sourceRecord(ledger.Principal(prop.Change.Source)))
		} else {
			records = append(records, record(event.RecordParams, "current", e.params.Current()))
		}
	}
	return records
}

func (e *Engine) poolRecord() event.Record {
	return record(event.RecordPool, "pool", PoolRecord{State: e.pool.State(), APY: e.pool.APY()})
}

func (e *Engine) accountRecord(p ledger.Principal) event.Record {
	return record(event.RecordAccount, string(p), AccountRecord{
		Account: e.pool.Account(p),
		Votes:   e.gov.BalanceOf(p),
	})
}

func (e *Engine) policyRecord(id uint64) event.Record {
	pol, err := e.registry.Get(id)
	if err != nil {
		panic(fmt.Sprintf("FATAL: policy %d vanished after commit: %v", id, err))
	}
	return record(event.RecordPolicy, idString(id), PolicyRecord{Policy: pol, Holders: e.registry.Holders(id)})
}

func (e *Engine) topicRecord(topic string) event.Record {
	return record(event.RecordTopic, topic, TopicRecord{
		Verdict:      e.oracle.Verdict(topic),
		Attestations: e.oracle.Attestations(topic),
	})
}

func (e *Engine) proposalRecord(id uint64) event.Record {
	prop, status, err := e.gov.Get(id)
	if err != nil {
		panic(fmt.Sprintf("FATAL: proposal %d vanished after commit: %v", id, err))
	}
	return record(event.RecordProposal, idString(id), ProposalRecord{Proposal: prop, State: status.String()})
}

func (e *Engine) sourceRecord(source ledger.Principal) event.Record {
	return record(event.RecordSource, string(source), SourceRecord{
		Source:     source,
		Registered: e.oracle.IsSource(source),
	})
}

func record(kind, id string, v any) event.Record {
	return event.Record{Kind: kind, ID: id, Data: mustJSON(v)}
}

func idString(id uint64) string { return strconv.FormatUint(id, 10) }

// === Read access ===

// View is a read-only handle on the engine state, valid only inside Read.
type View struct {
	Pool       *pool.Pool
	Registry   *policy.Registry
	Oracle     *oracle.Aggregator
	Payout     *payout.Engine
	Governance *governance.Governance
	Params     params.Params
	Balances   *ledger.BalanceTracker
	Sequence   int64
	StateHash  [32]byte
}

// Read runs fn under the engine lock with the clock set to now, so
// time-dependent views (pending rewards, proposal state) are current.
func (e *Engine) Read(fn func(v *View)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.opClock.Set(e.clock.Now().UTC())
	fn(&View{
		Pool:       e.pool,
		Registry:   e.registry,
		Oracle:     e.oracle,
		Payout:     e.payout,
		Governance: e.gov,
		Params:     e.params.Current(),
		Balances:   e.store.Balances(),
		Sequence:   e.sequence,
		StateHash:  e.hasher.PrevHash(),
	})
}

// Sequence returns the next sequence number to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the hash of the last applied command.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.PrevHash()
}

// === Snapshot ===

// SnapshotState is the complete engine state at a sequence boundary.
type SnapshotState struct {
	Sequence   int64               `json:"sequence"`
	StateHash  [32]byte            `json:"state_hash"`
	Params     params.Params       `json:"params"`
	Balances   map[string]int64    `json:"balances"` // account path -> balance
	Pool       pool.Snapshot       `json:"pool"`
	Registry   policy.Snapshot     `json:"registry"`
	Oracle     oracle.Snapshot     `json:"oracle"`
	Payout     payout.Snapshot     `json:"payout"`
	Governance governance.Snapshot `json:"governance"`
	RequestIDs []string            `json:"request_ids"` // LRU contents, oldest first
}

// CreateSnapshotState captures the state after the last applied command.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	raw := e.store.Balances().Snapshot()
	balances := make(map[string]int64, len(raw))
	for key, v := range raw {
		balances[key.AccountPath()] = v
	}

	return &SnapshotState{
		Sequence:   e.sequence,
		StateHash:  e.hasher.PrevHash(),
		Params:     e.params.Current(),
		Balances:   balances,
		Pool:       e.pool.Snapshot(),
		Registry:   e.registry.Snapshot(),
		Oracle:     e.oracle.Snapshot(),
		Payout:     e.payout.Snapshot(),
		Governance: e.gov.Snapshot(),
		RequestIDs: e.idempotency.lru.Keys(),
	}
}

// RestoreFromSnapshot replaces all engine state. Invariants are checked
// before the engine accepts commands again.
func (e *Engine) RestoreFromSnapshot(s *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances := make(map[ledger.AccountKey]int64, len(s.Balances))
	for path, v := range s.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return fmt.Errorf("restore balances: %w", err)
		}
		balances[key] = v
	}
	if err := e.params.Replace(s.Params); err != nil {
		return fmt.Errorf("restore params: %w", err)
	}

	e.store.Balances().Restore(balances)
	e.pool.Restore(s.Pool)
	e.registry.Restore(s.Registry)
	e.oracle.Restore(s.Oracle)
	e.payout.Restore(s.Payout)
	e.gov.Restore(s.Governance)

	e.sequence = s.Sequence
	e.hasher.SetPrevHash(s.StateHash)
	e.idempotency.lru.WarmFromKeys(s.RequestIDs)

	if err := e.postCheckInvariants(); err != nil {
		return fmt.Errorf("restored state is inconsistent: %w", err)
	}
	e.logger.Info().Int64("sequence", s.Sequence).Msg("engine restored from snapshot")
	return nil
}

// WarmLRU loads recently applied request ids, oldest first.
func (e *Engine) WarmLRU(requestIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.lru.WarmFromKeys(requestIDs)
}
