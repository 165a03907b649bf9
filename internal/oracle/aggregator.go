package oracle

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/params"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// KeyRegistry is implemented by verifiers that hold per-source keys.
type KeyRegistry interface {
	Register(signer ledger.Principal, key []byte) error
	Unregister(signer ledger.Principal)
}

// TopicState keeps the thresholds in force when it opened, so a later
// governance change cannot re-derive a different verdict.
type TopicState struct {
	Quorum           int64         `json:"quorum"`
	DisputeThreshold int64         `json:"dispute_threshold"`
	Attestations     []Attestation `json:"attestations"`
	seen             map[ledger.Principal]struct{}
}

// Aggregator collects attestations per topic from allow-listed sources.
type Aggregator struct {
	params   *params.Manager
	acl      *access.Table
	verifier capability.Verifier
	clock    capability.Clock
	logger   zerolog.Logger

	sources map[ledger.Principal][]byte // source -> public key, may be nil
	topics  map[string]*TopicState
}

func NewAggregator(
	pm *params.Manager,
	acl *access.Table,
	verifier capability.Verifier,
	clock capability.Clock,
	logger zerolog.Logger,
) *Aggregator {
	return &Aggregator{
		params:   pm,
		acl:      acl,
		verifier: verifier,
		clock:    clock,
		logger:   logger,
		sources:  make(map[ledger.Principal][]byte),
		topics:   make(map[string]*TopicState),
	}
}

// RegisterSource adds a source to the allow-list. The key, if given, is
// handed to the verifier.
func (a *Aggregator) RegisterSource(caller, source ledger.Principal, publicKey []byte) error {
	if err := a.acl.Check(access.OpRegisterSource, caller); err != nil {
		return err
	}
	if !source.Valid() {
		return fmt.Errorf("%w: invalid source %q", errs.ErrInvalidParameter, source)
	}
	if kr, ok := a.verifier.(KeyRegistry); ok && len(publicKey) > 0 {
		if err := kr.Register(source, publicKey); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrInvalidParameter, err)
		}
	}
	a.sources[source] = append([]byte(nil), publicKey...)
	a.logger.Info().Str("source", source.String()).Msg("oracle source registered")
	return nil
}

// RemoveSource drops a source. Its past attestations stand.
func (a *Aggregator) RemoveSource(caller, source ledger.Principal) error {
	if err := a.acl.Check(access.OpRemoveSource, caller); err != nil {
		return err
	}
	if _, ok := a.sources[source]; !ok {
		return fmt.Errorf("%w: %s", errs.ErrUnknownSource, source)
	}
	if kr, ok := a.verifier.(KeyRegistry); ok {
		kr.Unregister(source)
	}
	delete(a.sources, source)
	a.logger.Info().Str("source", source.String()).Msg("oracle source removed")
	return nil
}

// Submit records an attestation and returns the topic's verdict after it.
func (a *Aggregator) Submit(source ledger.Principal, topicID string, payload Hash, signature []byte) (Verdict, error) {
	if topicID == "" {
		return Verdict{}, fmt.Errorf("%w: empty topic", errs.ErrInvalidParameter)
	}
	if _, ok := a.sources[source]; !ok {
		return Verdict{}, fmt.Errorf("%w: %s", errs.ErrUnknownSource, source)
	}
	if !a.verifier.Verify(source, Digest(topicID, payload), signature) {
		return Verdict{}, fmt.Errorf("%w: %s on %q", errs.ErrSignatureInvalid, source, topicID)
	}

	t, ok := a.topics[topicID]
	if ok {
		if _, dup := t.seen[source]; dup {
			return Verdict{}, fmt.Errorf("%w: %s already attested %q", errs.ErrDuplicateAttestation, source, topicID)
		}
	} else {
		p := a.params.Current()
		t = &TopicState{
			Quorum:           p.OracleQuorum,
			DisputeThreshold: p.DisputeThreshold,
			seen:             make(map[ledger.Principal]struct{}),
		}
		a.topics[topicID] = t
	}

	before := a.derive(topicID, t)

	t.Attestations = append(t.Attestations, Attestation{
		Source:      source,
		Topic:       topicID,
		PayloadHash: payload,
		Signature:   append([]byte(nil), signature...),
		Timestamp:   a.clock.Now(),
	})
	t.seen[source] = struct{}{}

	after := a.derive(topicID, t)
	if !before.Terminal() && after.Terminal() {
		a.logger.Info().
			Str("topic", topicID).
			Str("status", after.Status.String()).
			Int64("quorum_count", after.QuorumCount).
			Msg("verdict finalized")
	}
	return after, nil
}

func (a *Aggregator) derive(topicID string, t *TopicState) Verdict {
	return DeriveVerdict(topicID, t.Attestations, t.Quorum, t.DisputeThreshold)
}

// Verdict re-derives the verdict for a topic. Unknown topics are Insufficient.
func (a *Aggregator) Verdict(topicID string) Verdict {
	t, ok := a.topics[topicID]
	if !ok {
		return Verdict{Topic: topicID, Status: StatusInsufficient}
	}
	return a.derive(topicID, t)
}

func (a *Aggregator) Attestations(topicID string) []Attestation {
	t, ok := a.topics[topicID]
	if !ok {
		return nil
	}
	out := make([]Attestation, len(t.Attestations))
	copy(out, t.Attestations)
	return out
}

func (a *Aggregator) IsSource(p ledger.Principal) bool {
	_, ok := a.sources[p]
	return ok
}

func (a *Aggregator) Sources() []ledger.Principal {
	out := make([]ledger.Principal, 0, len(a.sources))
	for s := range a.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks that attestations stay unique per (source, topic).
func (a *Aggregator) Validate() error {
	for id, t := range a.topics {
		seen := make(map[ledger.Principal]struct{}, len(t.Attestations))
		for _, att := range t.Attestations {
			if _, dup := seen[att.Source]; dup {
				return fmt.Errorf("topic %q has duplicate attestation from %s", id, att.Source)
			}
			seen[att.Source] = struct{}{}
		}
	}
	return nil
}

// Snapshot is the aggregator state for persistence. Verdicts are omitted;
// they are re-derived on load.
type Snapshot struct {
	Sources []ledger.Principal          `json:"sources"`
	Keys    map[ledger.Principal][]byte `json:"keys,omitempty"`
	Topics  map[string]*TopicState      `json:"topics"`
}

func (a *Aggregator) Snapshot() Snapshot {
	topics := make(map[string]*TopicState, len(a.topics))
	for id, t := range a.topics {
		cp := &TopicState{
			Quorum:           t.Quorum,
			DisputeThreshold: t.DisputeThreshold,
			Attestations:     make([]Attestation, len(t.Attestations)),
		}
		copy(cp.Attestations, t.Attestations)
		topics[id] = cp
	}
	keys := make(map[ledger.Principal][]byte)
	for src, key := range a.sources {
		if len(key) > 0 {
			keys[src] = append([]byte(nil), key...)
		}
	}
	return Snapshot{Sources: a.Sources(), Keys: keys, Topics: topics}
}

// Restore replaces the allow-list and topics and hands stored keys back to
// the verifier.
func (a *Aggregator) Restore(s Snapshot) {
	kr, _ := a.verifier.(KeyRegistry)
	a.sources = make(map[ledger.Principal][]byte, len(s.Sources))
	for _, src := range s.Sources {
		key := s.Keys[src]
		a.sources[src] = append([]byte(nil), key...)
		if kr != nil && len(key) > 0 {
			if err := kr.Register(src, key); err != nil {
				a.logger.Error().Err(err).Str("source", src.String()).Msg("restored source key rejected")
			}
		}
	}
	a.topics = make(map[string]*TopicState, len(s.Topics))
	for id, t := range s.Topics {
		cp := &TopicState{
			Quorum:           t.Quorum,
			DisputeThreshold: t.DisputeThreshold,
			Attestations:     append([]Attestation(nil), t.Attestations...),
			seen:             make(map[ledger.Principal]struct{}, len(t.Attestations)),
		}
		for _, att := range cp.Attestations {
			cp.seen[att.Source] = struct{}{}
		}
		a.topics[id] = cp
	}
}
