// Package access is the capability table guarding every privileged entry
// point: an operation maps to the set of principals allowed to invoke it.
package access

import (
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	"fmt"
	"sort"
	"sync"
)

type Operation string

const (
	OpReserveExposure Operation = "pool.reserve"
	OpReleaseExposure Operation = "pool.release"
	OpPayOut          Operation = "pool.payout"
	OpCollectPremium  Operation = "pool.collect_premium"
	OpPolicyPayout    Operation = "policy.payout"
	OpRegisterSource  Operation = "oracle.register_source"
	OpRemoveSource    Operation = "oracle.remove_source"
	OpMintTokens      Operation = "governance.mint"
)

// Component identities used for internal cross-component calls.
const (
	Registry   ledger.Principal = "registry"
	Payout     ledger.Principal = "payout-engine"
	Governance ledger.Principal = "governance"
)

type Table struct {
	mu     sync.RWMutex
	grants map[Operation]map[ledger.Principal]struct{}
}

func NewTable() *Table {
	return &Table{grants: make(map[Operation]map[ledger.Principal]struct{})}
}

// NewDefaultTable wires the component grants and gives admin the
// administrative operations.
func NewDefaultTable(admin ledger.Principal) *Table {
	t := NewTable()
	t.Grant(OpReserveExposure, Registry)
	t.Grant(OpReleaseExposure, Registry)
	t.Grant(OpCollectPremium, Registry)
	t.Grant(OpPayOut, Payout)
	t.Grant(OpPolicyPayout, Payout)
	t.Grant(OpRegisterSource, Governance)
	t.Grant(OpRemoveSource, Governance)
	if admin != "" {
		t.Grant(OpRegisterSource, admin)
		t.Grant(OpRemoveSource, admin)
		t.Grant(OpMintTokens, admin)
	}
	return t
}

func (t *Table) Grant(op Operation, p ledger.Principal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[op]
	if !ok {
		set = make(map[ledger.Principal]struct{})
		t.grants[op] = set
	}
	set[p] = struct{}{}
}

func (t *Table) Revoke(op Operation, p ledger.Principal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.grants[op], p)
}

// Check returns ErrUnauthorized unless caller may invoke op.
func (t *Table) Check(op Operation, caller ledger.Principal) error {
	t.mu.RLock()
	_, ok := t.grants[op][caller]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s may not call %s", errs.ErrUnauthorized, caller, op)
	}
	return nil
}

// Holders lists the principals granted op, sorted.
func (t *Table) Holders(op Operation) []ledger.Principal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ledger.Principal, 0, len(t.grants[op]))
	for p := range t.grants[op] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
