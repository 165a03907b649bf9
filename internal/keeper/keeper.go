// Package keeper drives time-based maintenance: it expires policies past
// their term and grace period and re-evaluates pending claims whose
// evidence has reached a verdict.
package keeper

import (
	"MutualLedger/internal/capability"
	"MutualLedger/internal/core"
	"MutualLedger/internal/event"
	"MutualLedger/internal/oracle"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// namespace for deterministic keeper request ids: every keeper replica
// derives the same id for the same action, so the engine applies it once.
var namespace = uuid.MustParse("6f1c2a4e-8d3b-4c1f-9a57-2e0b7d9c4f18")

func requestID(action string, id uint64) string {
	return uuid.NewSHA1(namespace, []byte(action+":"+strconv.FormatUint(id, 10))).String()
}

// Reader is the engine's read surface.
type Reader interface {
	Read(fn func(v *core.View))
}

// Submitter delivers a keeper command.
type Submitter interface {
	Submit(ctx context.Context, cmd event.Command) error
}

// Keeper scans engine state on a ticker and submits maintenance commands.
type Keeper struct {
	engine   Reader
	out      Submitter
	clock    capability.Clock
	interval time.Duration
	logger   zerolog.Logger
}

func New(engine Reader, out Submitter, clock capability.Clock, interval time.Duration, logger zerolog.Logger) *Keeper {
	return &Keeper{engine: engine, out: out, clock: clock, interval: interval, logger: logger}
}

// SweepResult counts the commands one sweep submitted.
type SweepResult struct {
	Expired   int
	Evaluated int
	Failed    int
}

func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res := k.Sweep(ctx)
			if res.Expired+res.Evaluated+res.Failed > 0 {
				k.logger.Info().
					Int("expired", res.Expired).
					Int("evaluated", res.Evaluated).
					Int("failed", res.Failed).
					Msg("keeper sweep")
			}
		}
	}
}

// Sweep submits ExpirePolicy for every lapsed policy and EvaluateClaim for
// every pending claim whose evidence topic is verified or disputed.
func (k *Keeper) Sweep(ctx context.Context) SweepResult {
	now := k.clock.Now()

	var expire, evaluate []uint64
	k.engine.Read(func(v *core.View) {
		expire = v.Registry.ExpiredCandidates(now)
		for _, id := range v.Payout.PendingClaims() {
			c, err := v.Payout.Get(id)
			if err != nil {
				continue
			}
			if v.Oracle.Verdict(c.EvidenceTopic).Status != oracle.StatusInsufficient {
				evaluate = append(evaluate, id)
			}
		}
	})

	var res SweepResult
	for _, id := range expire {
		cmd := &event.ExpirePolicy{Header: event.Header{ID: requestID("expire", id)}, PolicyID: id}
		if err := k.out.Submit(ctx, cmd); err != nil {
			res.Failed++
			k.logger.Warn().Err(err).Uint64("policy_id", id).Msg("expire failed")
			continue
		}
		res.Expired++
	}
	for _, id := range evaluate {
		cmd := &event.EvaluateClaim{Header: event.Header{ID: requestID("evaluate", id)}, ClaimID: id}
		if err := k.out.Submit(ctx, cmd); err != nil {
			res.Failed++
			k.logger.Warn().Err(err).Uint64("claim_id", id).Msg("evaluate failed")
			continue
		}
		res.Evaluated++
	}
	return res
}

// --- Submitters ---

// Applier applies commands in-process.
type Applier interface {
	Apply(cmd event.Command) (core.Result, error)
}

// EngineSubmitter applies keeper commands directly to the engine.
type EngineSubmitter struct {
	Engine Applier
}

func (s EngineSubmitter) Submit(_ context.Context, cmd event.Command) error {
	_, err := s.Engine.Apply(cmd)
	return err
}

// Publisher is the slice of jetstream.JetStream NATSSubmitter needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSubmitter publishes keeper commands to mutual.commands.<Kind>, for
// deployments where the keeper runs apart from the ledger.
type NATSSubmitter struct {
	JS Publisher
}

func (s NATSSubmitter) Submit(ctx context.Context, cmd event.Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("mutual.commands.%s", cmd.Kind())
	_, err = s.JS.Publish(ctx, subject, data, jetstream.WithMsgID(cmd.RequestID()))
	return err
}
