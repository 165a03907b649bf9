package capability

import (
	"MutualLedger/internal/ledger"
	"crypto/ed25519"
	"fmt"
	"sync"
)

// Verifier checks an attestation signature over a message digest.
type Verifier interface {
	Verify(signer ledger.Principal, message, signature []byte) bool
}

// Ed25519Verifier verifies signatures against a registered public key per
// oracle source.
type Ed25519Verifier struct {
	mu   sync.RWMutex
	keys map[ledger.Principal]ed25519.PublicKey
}

func NewEd25519Verifier() *Ed25519Verifier {
	return &Ed25519Verifier{keys: make(map[ledger.Principal]ed25519.PublicKey)}
}

func (v *Ed25519Verifier) Register(signer ledger.Principal, key []byte) error {
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("public key for %s has %d bytes, want %d", signer, len(key), ed25519.PublicKeySize)
	}
	v.mu.Lock()
	v.keys[signer] = ed25519.PublicKey(append([]byte(nil), key...))
	v.mu.Unlock()
	return nil
}

func (v *Ed25519Verifier) Unregister(signer ledger.Principal) {
	v.mu.Lock()
	delete(v.keys, signer)
	v.mu.Unlock()
}

func (v *Ed25519Verifier) Verify(signer ledger.Principal, message, signature []byte) bool {
	v.mu.RLock()
	key, ok := v.keys[signer]
	v.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(key, message, signature)
}
