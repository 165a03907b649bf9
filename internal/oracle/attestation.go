package oracle

import (
	"MutualLedger/internal/ledger"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte payload digest, hex encoded on the wire.
type Hash [32]byte

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(b []byte) error {
	parsed, err := ParseHash(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash accepts 64 hex characters with an optional 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return h, fmt.Errorf("payload hash must be 32 bytes, got %d hex chars", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("payload hash: %w", err)
	}
	return h, nil
}

// Digest is the message an oracle source signs: keccak256(topic ‖ payloadHash).
func Digest(topic string, payload Hash) []byte {
	k := sha3.NewLegacyKeccak256()
	k.Write([]byte(topic))
	k.Write(payload[:])
	return k.Sum(nil)
}

// Attestation is one source's signed claim about a topic's outcome.
type Attestation struct {
	Source      ledger.Principal `json:"source"`
	Topic       string           `json:"topic"`
	PayloadHash Hash             `json:"payload_hash"`
	Signature   []byte           `json:"signature"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Status of a topic's verdict
type Status uint8

const (
	StatusInsufficient Status = iota
	StatusVerified
	StatusDisputed
)

func (s Status) String() string {
	switch s {
	case StatusInsufficient:
		return "insufficient"
	case StatusVerified:
		return "verified"
	case StatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// Verdict is derived from a topic's attestations; it is never stored.
type Verdict struct {
	Topic        string    `json:"topic"`
	Status       Status    `json:"status"`
	QuorumCount  int64     `json:"quorum_count"` // agreeing attestations for the leading hash
	AgreedHash   Hash      `json:"agreed_hash"`  // set when Verified
	FinalizedAt  time.Time `json:"finalized_at"`
	Attestations int       `json:"attestations"`
}

// Terminal reports whether the verdict can no longer change.
func (v Verdict) Terminal() bool {
	return v.Status != StatusInsufficient
}

// DeriveVerdict folds attestations in arrival order. The first terminal
// state reached wins; later attestations never change it.
func DeriveVerdict(topic string, atts []Attestation, quorum, disputeThreshold int64) Verdict {
	v := Verdict{Topic: topic, Status: StatusInsufficient, Attestations: len(atts)}
	counts := make(map[Hash]int64)

	for _, a := range atts {
		counts[a.PayloadHash]++
		n := counts[a.PayloadHash]

		if n > v.QuorumCount {
			v.QuorumCount = n
		}

		if n >= quorum {
			v.Status = StatusVerified
			v.AgreedHash = a.PayloadHash
			v.FinalizedAt = a.Timestamp
			return v
		}

		var blocking int
		for _, c := range counts {
			if c >= disputeThreshold {
				blocking++
			}
		}
		if blocking >= 2 {
			v.Status = StatusDisputed
			v.FinalizedAt = a.Timestamp
			return v
		}
	}

	return v
}
