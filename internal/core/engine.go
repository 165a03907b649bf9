package core

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	"MutualLedger/internal/governance"
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/observability"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/params"
	"MutualLedger/internal/payout"
	"MutualLedger/internal/policy"
	"MutualLedger/internal/pool"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Engine is the single serialized entry point to the ledger. It owns every
// component and applies one command at a time: a command either commits
// all of its effects or, on error, none.
type Engine struct {
	mu sync.Mutex

	clock   capability.Clock
	opClock *capability.ManualClock // frozen for the duration of a command
	settler *replayGate

	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker

	store    *ledger.Store
	params   *params.Manager
	acl      *access.Table
	pool     *pool.Pool
	registry *policy.Registry
	oracle   *oracle.Aggregator
	payout   *payout.Engine
	gov      *governance.Governance

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan  chan<- Output
	outboundChan chan<- Output
}

// Config wires the engine to its collaborators. Settler, Verifier and Clock
// are required.
type Config struct {
	Admin         ledger.Principal
	Params        *params.Params // nil selects params.Defaults()
	Settler       capability.Settler
	Verifier      capability.Verifier
	Clock         capability.Clock
	DedupCapacity int
	DBChecker     DBIdempotencyChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger

	// PersistChan receives every output with a blocking send.
	PersistChan chan<- Output
	// OutboundChan receives outputs for publishing; dropped when full.
	OutboundChan chan<- Output
}

// Output is everything one applied command produced.
type Output struct {
	Envelope *event.Envelope
	Batches  []*ledger.Batch
	Records  []event.Record
	Triggers []pool.ReinsuranceTrigger
}

// Result is returned to the caller of Apply.
type Result struct {
	Sequence  int64
	Duplicate bool
	Value     any
	StateHash [32]byte
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Settler == nil || cfg.Verifier == nil || cfg.Clock == nil {
		return nil, errors.New("engine requires a settler, a verifier and a clock")
	}
	if !cfg.Admin.Valid() {
		return nil, fmt.Errorf("invalid admin principal %q", cfg.Admin)
	}

	initial := params.Defaults()
	if cfg.Params != nil {
		initial = cfg.Params.Clone()
	}
	pm, err := params.NewManager(initial)
	if err != nil {
		return nil, err
	}

	capacity := cfg.DedupCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}

	logger := cfg.Logger
	opClock := capability.NewManualClock(cfg.Clock.Now())
	settler := &replayGate{inner: cfg.Settler}
	store := ledger.NewStore()
	acl := access.NewDefaultTable(cfg.Admin)

	p := pool.New(store, pm, acl, settler, opClock, logger.With().Str("component", "pool").Logger())
	reg := policy.NewRegistry(p, pm, acl, opClock, logger.With().Str("component", "registry").Logger())
	agg := oracle.NewAggregator(pm, acl, cfg.Verifier, opClock, logger.With().Str("component", "oracle").Logger())
	pay := payout.NewEngine(reg, p, agg, opClock, logger.With().Str("component", "payout").Logger())
	gov := governance.New(store, pm, agg, p, acl, opClock, logger.With().Str("component", "governance").Logger())

	return &Engine{
		clock:        cfg.Clock,
		opClock:      opClock,
		settler:      settler,
		hasher:       NewStateHasher(),
		idempotency:  NewIdempotencyChecker(capacity, cfg.DBChecker, cfg.Metrics, logger),
		store:        store,
		params:       pm,
		acl:          acl,
		pool:         p,
		registry:     reg,
		oracle:       agg,
		payout:       pay,
		gov:          gov,
		metrics:      cfg.Metrics,
		logger:       logger,
		persistChan:  cfg.PersistChan,
		outboundChan: cfg.OutboundChan,
	}, nil
}

// Apply runs one command to completion.
//
// Pipeline: dedup, freeze clock, dispatch, post-check invariants, hash,
// emit, mark processed. A rejected command consumes no sequence number.
func (e *Engine) Apply(cmd event.Command) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.apply(cmd, e.clock.Now().UTC(), true)
}

// Replay re-applies a command from the log under its recorded timestamp
// and checks the resulting hash against the recorded one. Nothing is
// emitted and nothing is settled; both already happened.
func (e *Engine) Replay(env *event.Envelope, cmd event.Command) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Sequence != e.sequence {
		return fmt.Errorf("replay sequence %d, engine expects %d", env.Sequence, e.sequence)
	}
	e.settler.replaying = true
	res, err := e.apply(cmd, env.Timestamp.UTC(), false)
	e.settler.replaying = false
	if err != nil {
		return fmt.Errorf("replay %d (%s): %w", env.Sequence, env.Kind, err)
	}
	if res.Duplicate {
		return fmt.Errorf("replay %d: request %s already applied", env.Sequence, env.RequestID)
	}
	if res.StateHash != env.StateHash {
		return fmt.Errorf("replay %d: state hash %x, log has %x", env.Sequence, res.StateHash, env.StateHash)
	}
	return nil
}

func (e *Engine) apply(cmd event.Command, now time.Time, emit bool) (Result, error) {
	start := time.Now()
	kind := cmd.Kind().String()
	requestID := cmd.RequestID()

	if requestID == "" {
		e.recordRejected(kind, "invalid")
		return Result{}, fmt.Errorf("%w: missing request id", errs.ErrInvalidParameter)
	}
	if e.idempotency.IsDuplicate(requestID) {
		e.recordRejected(kind, "duplicate")
		return Result{Duplicate: true}, nil
	}

	e.opClock.Set(now)
	e.store.Begin(requestID, e.sequence, now.UnixMicro())

	value, err := e.dispatch(cmd)
	if err != nil {
		if leaked := e.store.Drain(); leaked != nil {
			panic(fmt.Sprintf("FATAL: %s %s failed after posting %d batches: %v", kind, requestID, len(leaked), err))
		}
		e.recordRejected(kind, errs.Label(err))
		e.logger.Debug().Err(err).Str("kind", kind).Str("request_id", requestID).Msg("command rejected")
		return Result{}, err
	}

	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s %s: %v", kind, requestID, err))
	}

	batches := e.store.Drain()
	triggers := e.pool.DrainTriggers()
	resultJSON := mustJSON(value)

	prevHash := e.hasher.PrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, e.computeStateDigest(batches, resultJSON))

	if emit {
		e.emit(Output{
			Envelope: &event.Envelope{
				Sequence:  e.sequence,
				RequestID: requestID,
				Kind:      cmd.Kind(),
				Timestamp: now,
				Payload:   mustJSON(cmd),
				Result:    resultJSON,
				StateHash: stateHash,
				PrevHash:  prevHash,
			},
			Batches:  batches,
			Records:  e.touchedRecords(cmd, value),
			Triggers: triggers,
		})
	}

	e.idempotency.MarkProcessed(requestID)
	e.recordApplied(cmd, value, batches, triggers, start)

	res := Result{Sequence: e.sequence, Value: value, StateHash: stateHash}
	e.sequence++
	return res, nil
}

func (e *Engine) dispatch(cmd event.Command) (any, error) {
	switch c := cmd.(type) {
	case *event.Deposit:
		shares, err := e.pool.Deposit(c.Provider, c.Amount)
		return shares, err
	case *event.Withdraw:
		burned, err := e.pool.Withdraw(c.Provider, c.Amount)
		return burned, err
	case *event.AccrueRewards:
		return e.pool.AccrueRewards(c.Provider), nil
	case *event.ClaimRewards:
		paid, err := e.pool.ClaimRewards(c.Provider)
		return paid, err

	case *event.PurchasePolicy:
		pol, err := e.registry.Purchase(c.Buyer, c.Category, c.AmountInsured, c.Term)
		return pol, err
	case *event.RenewPolicy:
		pol, err := e.registry.Renew(c.Caller, c.PolicyID, c.ExtraTerm)
		return pol, err
	case *event.TransferPolicy:
		return nil, e.registry.Transfer(c.Caller, c.PolicyID, c.From, c.To, c.Quantity)
	case *event.ExpirePolicy:
		return nil, e.registry.Expire(c.PolicyID)

	case *event.RegisterSource:
		return nil, e.oracle.RegisterSource(c.Caller, c.Source, c.PublicKey)
	case *event.RemoveSource:
		return nil, e.oracle.RemoveSource(c.Caller, c.Source)
	case *event.SubmitAttestation:
		v, err := e.oracle.Submit(c.Source, c.Topic, c.PayloadHash, c.Signature)
		return v, err

	case *event.SubmitClaim:
		claim, err := e.payout.SubmitClaim(c.PolicyID, c.Claimant, c.Amount, c.EvidenceTopic)
		return claim, err
	case *event.EvaluateClaim:
		claim, err := e.payout.Evaluate(c.ClaimID)
		return claim, err
	case *event.ExecuteClaim:
		claim, err := e.payout.Execute(c.ClaimID)
		return claim, err

	case *event.MintTokens:
		return nil, e.gov.Mint(c.Caller, c.To, c.Amount)
	case *event.TransferTokens:
		return nil, e.gov.Transfer(c.From, c.To, c.Amount)
	case *event.CreateProposal:
		prop, err := e.gov.CreateProposal(c.Proposer, c.Change, c.Description)
		return prop, err
	case *event.Vote:
		r, err := e.gov.Vote(c.ProposalID, c.Voter, c.Support)
		return r, err
	case *event.ExecuteProposal:
		prop, err := e.gov.Execute(c.ProposalID)
		return prop, err

	default:
		return nil, fmt.Errorf("%w: unknown command %T", errs.ErrInvalidParameter, cmd)
	}
}

// postCheckInvariants runs after every successful command.
func (e *Engine) postCheckInvariants() error {
	if err := e.store.Validator().ValidateAll(); err != nil {
		return err
	}
	if reg, pl := e.registry.TotalExposure(), e.pool.Exposure(); reg != pl {
		return fmt.Errorf("policy exposure %d != pool exposure %d", reg, pl)
	}
	capital := e.store.Balances().GetPoolCapital()
	if exposure, limit := e.pool.Exposure(), fpmath.ApplyRatio(capital, e.params.Current().CapacityCap); exposure > limit {
		return fmt.Errorf("exposure %d over capacity %d of capital %d", exposure, limit, capital)
	}
	if err := e.registry.Validate(); err != nil {
		return err
	}
	if err := e.payout.Validate(); err != nil {
		return err
	}
	if err := e.oracle.Validate(); err != nil {
		return err
	}
	return e.gov.Validate()
}

// computeStateDigest covers every account the batches touched plus the
// command result.
func (e *Engine) computeStateDigest(batches []*ledger.Batch, result []byte) []byte {
	affected := make(map[ledger.AccountKey]struct{})
	for _, b := range batches {
		for _, j := range b.Journals {
			affected[j.DebitAccount] = struct{}{}
			affected[j.CreditAccount] = struct{}{}
		}
	}

	paths := make([]string, 0, len(affected))
	byPath := make(map[string]ledger.AccountKey, len(affected))
	for key := range affected {
		path := key.AccountPath()
		paths = append(paths, path)
		byPath[path] = key
	}
	sort.Strings(paths)

	digest := make([]byte, 0, len(paths)*64+len(result))
	for _, path := range paths {
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, e.store.Balances().GetBalance(byPath[path]))
	}
	return append(digest, result...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// emit hands the output to persistence (blocking) and the outbound
// publisher (non-blocking, dropped when full).
func (e *Engine) emit(out Output) {
	if e.persistChan != nil {
		e.persistChan <- out
	}
	if e.outboundChan != nil {
		select {
		case e.outboundChan <- out:
		default:
			e.logger.Warn().Int64("sequence", out.Envelope.Sequence).Msg("outbound channel full, output dropped")
		}
	}
}

func (e *Engine) recordRejected(kind, reason string) {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(kind, reason).Inc()
	}
}

func (e *Engine) recordApplied(cmd event.Command, value any, batches []*ledger.Batch, triggers []pool.ReinsuranceTrigger, start time.Time) {
	m := e.metrics
	if m == nil {
		return
	}
	kind := cmd.Kind().String()
	m.CommandsApplied.WithLabelValues(kind).Inc()
	m.CommandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	m.EngineSequence.Set(float64(e.sequence + 1))

	for _, b := range batches {
		for _, j := range b.Journals {
			m.JournalsPosted.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	m.ReinsuranceTriggers.Add(float64(len(triggers)))

	st := e.pool.State()
	m.PoolCapital.Set(fpmath.ToFloat(st.Capital, fpmath.AmountConfig))
	m.PoolExposure.Set(fpmath.ToFloat(st.Exposure, fpmath.AmountConfig))
	m.PoolUtilization.Set(fpmath.ToFloat(st.Utilization, fpmath.RatioConfig))
	m.PoolRewardPool.Set(fpmath.ToFloat(st.RewardPool, fpmath.AmountConfig))
	m.PoolReserveFund.Set(fpmath.ToFloat(st.ReserveFund, fpmath.AmountConfig))

	switch cmd.(type) {
	case *event.PurchasePolicy:
		pol := value.(policy.Policy)
		m.PoliciesPurchased.WithLabelValues(pol.Category).Inc()
		m.PremiumCollected.WithLabelValues(pol.Category).Add(fpmath.ToFloat(pol.PremiumPaid, fpmath.AmountConfig))
	case *event.SubmitAttestation:
		m.Attestations.WithLabelValues(value.(oracle.Verdict).Status.String()).Inc()
	case *event.SubmitClaim, *event.EvaluateClaim, *event.ExecuteClaim:
		for status, n := range e.payout.CountByStatus() {
			m.ClaimsByStatus.WithLabelValues(status.String()).Set(float64(n))
		}
		if cmd.Kind() == event.KindExecuteClaim {
			m.PayoutAmount.Add(fpmath.ToFloat(value.(payout.Claim).Amount, fpmath.AmountConfig))
		}
	case *event.ExecuteProposal:
		m.ProposalsExecuted.WithLabelValues(string(value.(governance.Proposal).Change.Kind)).Inc()
	}
}

// replayGate suppresses external settlement while replaying the log.
type replayGate struct {
	inner     capability.Settler
	replaying bool
}

func (g *replayGate) Settle(payer, payee ledger.Principal, amount int64) error {
	if g.replaying {
		return nil
	}
	return g.inner.Settle(payer, payee, amount)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode %T: %v", v, err))
	}
	return data
}
