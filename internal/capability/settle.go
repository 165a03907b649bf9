package capability

import (
	"MutualLedger/internal/ledger"
	"fmt"
	"sync"
)

// Settler moves currency between principals outside the ledger (the token
// contract in production). A non-nil error means nothing moved.
type Settler interface {
	Settle(payer, payee ledger.Principal, amount int64) error
}

// Wallets is an in-memory stablecoin used by the dev binary and tests.
type Wallets struct {
	mu       sync.Mutex
	balances map[ledger.Principal]int64
	failNext error
}

func NewWallets() *Wallets {
	return &Wallets{balances: make(map[ledger.Principal]int64)}
}

// Mint credits a principal out of thin air (faucet).
func (w *Wallets) Mint(p ledger.Principal, amount int64) {
	w.mu.Lock()
	w.balances[p] += amount
	w.mu.Unlock()
}

func (w *Wallets) Balance(p ledger.Principal) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[p]
}

// FailNext makes the next Settle call return err.
func (w *Wallets) FailNext(err error) {
	w.mu.Lock()
	w.failNext = err
	w.mu.Unlock()
}

func (w *Wallets) Settle(payer, payee ledger.Principal, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.failNext; err != nil {
		w.failNext = nil
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("settle: non-positive amount %d", amount)
	}
	if w.balances[payer] < amount {
		return fmt.Errorf("settle: %s holds %d, needs %d", payer, w.balances[payer], amount)
	}

	w.balances[payer] -= amount
	w.balances[payee] += amount
	return nil
}
