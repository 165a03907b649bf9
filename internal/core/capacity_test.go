package core_test

import (
	"MutualLedger/internal/core"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/event"
	"MutualLedger/internal/governance"
	"MutualLedger/internal/ledger"
	fpmath "MutualLedger/internal/math"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/params"
	"MutualLedger/internal/payout"
	"MutualLedger/internal/policy"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) requireWithinCapacity(t *testing.T, step int) {
	t.Helper()
	h.engine.Read(func(v *core.View) {
		st := v.Pool.State()
		limit := fpmath.ApplyRatio(st.Capital, v.Params.CapacityCap)
		require.LessOrEqual(t, st.Exposure, limit, "step %d: exposure over capacity", step)
		require.Equal(t, v.Registry.TotalExposure(), st.Exposure, "step %d", step)
		require.NoError(t, v.Registry.Validate(), "step %d", step)
	})
}

// Random deposit, withdraw, purchase, claim and expiry sequences never leave
// exposure above the capacity cap. Rejected commands are part of the mix.
func TestCapacity_HoldsOverMixedSequences(t *testing.T) {
	for _, seed := range []int64{1, 7, 42, 1337} {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			h := newHarness(t)
			rng := rand.New(rand.NewSource(seed))

			h.addSource(t, "src-a")
			h.addSource(t, "src-b")
			topics := []string{"evt-0", "evt-1", "evt-2"}
			for _, topic := range topics {
				for _, src := range []ledger.Principal{"src-a", "src-b"} {
					_, err := h.attest(src, topic, oracle.Hash{0x01})
					require.NoError(t, err)
				}
			}

			lps := []ledger.Principal{"lp-a", "lp-b"}
			buyers := []ledger.Principal{"buyer-a", "buyer-b", "buyer-c"}
			var policies []policy.Policy

			for step := 0; step < 300; step++ {
				switch rng.Intn(5) {
				case 0:
					lp := lps[rng.Intn(len(lps))]
					amount := int64(1+rng.Intn(500)) * unit
					h.wallets.Mint(lp, amount)
					_, _ = h.engine.Apply(&event.Deposit{Header: hdr(), Provider: lp, Amount: amount})
				case 1:
					lp := lps[rng.Intn(len(lps))]
					amount := int64(1+rng.Intn(300)) * unit
					_, _ = h.engine.Apply(&event.Withdraw{Header: hdr(), Provider: lp, Amount: amount})
				case 2:
					buyer := buyers[rng.Intn(len(buyers))]
					h.wallets.Mint(buyer, 100*unit)
					res, err := h.engine.Apply(&event.PurchasePolicy{
						Header:        hdr(),
						Buyer:         buyer,
						Category:      "flight-delay",
						AmountInsured: int64(1+rng.Intn(400)) * unit,
						Term:          time.Duration(1+rng.Intn(60)) * day,
					})
					if err == nil {
						policies = append(policies, res.Value.(policy.Policy))
					}
				case 3:
					if len(policies) == 0 {
						continue
					}
					pol := policies[rng.Intn(len(policies))]
					res, err := h.engine.Apply(&event.SubmitClaim{
						Header:        hdr(),
						PolicyID:      pol.ID,
						Claimant:      pol.Buyer,
						Amount:        1 + rng.Int63n(pol.AmountInsured),
						EvidenceTopic: topics[rng.Intn(len(topics))],
					})
					if err != nil {
						continue
					}
					id := res.Value.(payout.Claim).ID
					_, _ = h.engine.Apply(&event.EvaluateClaim{Header: hdr(), ClaimID: id})
					_, _ = h.engine.Apply(&event.ExecuteClaim{Header: hdr(), ClaimID: id})
				case 4:
					h.clock.Advance(time.Duration(rng.Intn(5*24)) * time.Hour)
					if len(policies) > 0 {
						pol := policies[rng.Intn(len(policies))]
						_, _ = h.engine.Apply(&event.ExpirePolicy{Header: hdr(), PolicyID: pol.ID})
					}
				}
				h.requireWithinCapacity(t, step)
				drainOutputs(h.persistCh)
			}
		})
	}
}

func TestGovernance_CapacityCapBelowUtilizationRejected(t *testing.T) {
	h := newHarness(t)
	h.seedPool(t)
	h.apply(t, &event.Withdraw{Header: hdr(), Provider: "lp", Amount: 400 * unit})
	h.apply(t, &event.PurchasePolicy{
		Header: hdr(), Buyer: "buyer", Category: "flight-delay", AmountInsured: 90 * unit, Term: 30 * day,
	})
	h.engine.Read(func(v *core.View) {
		assert.Equal(t, int64(983_334), v.Pool.State().Utilization)
	})

	h.apply(t, &event.MintTokens{Header: hdr(), Caller: "admin", To: "alice", Amount: 1_000 * unit})
	prop := h.apply(t, &event.CreateProposal{
		Header:      hdr(),
		Proposer:    "alice",
		Change:      params.Change{Kind: params.ChangeCapacityCap, Value: 900_000},
		Description: "cap at 90%",
	}).Value.(governance.Proposal)
	h.apply(t, &event.Vote{Header: hdr(), ProposalID: prop.ID, Voter: "alice", Support: true})
	h.clock.Advance(3*day + time.Second)

	_, err := h.engine.Apply(&event.ExecuteProposal{Header: hdr(), ProposalID: prop.ID})
	assert.ErrorIs(t, err, errs.ErrCapacityExceeded)

	h.engine.Read(func(v *core.View) {
		assert.Equal(t, int64(1_000_000), v.Params.CapacityCap)
	})
	h.requireWithinCapacity(t, 0)
}
