package oracle_test

import (
	"MutualLedger/internal/access"
	"MutualLedger/internal/capability"
	"MutualLedger/internal/errs"
	"MutualLedger/internal/ledger"
	"MutualLedger/internal/oracle"
	"MutualLedger/internal/params"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signer struct {
	id   ledger.Principal
	priv ed25519.PrivateKey
}

func (s signer) sign(topic string, h oracle.Hash) []byte {
	return ed25519.Sign(s.priv, oracle.Digest(topic, h))
}

type fixture struct {
	agg     *oracle.Aggregator
	params  *params.Manager
	clock   *capability.ManualClock
	signers map[ledger.Principal]signer
}

func newFixture(t *testing.T, sources ...ledger.Principal) *fixture {
	t.Helper()
	pm := params.NewDefaultManager()
	clock := capability.NewManualClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	agg := oracle.NewAggregator(pm, access.NewDefaultTable("admin"), capability.NewEd25519Verifier(), clock, zerolog.Nop())

	f := &fixture{agg: agg, params: pm, clock: clock, signers: make(map[ledger.Principal]signer)}
	for _, id := range sources {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		require.NoError(t, agg.RegisterSource("admin", id, pub))
		f.signers[id] = signer{id: id, priv: priv}
	}
	return f
}

func (f *fixture) submit(src ledger.Principal, topic string, h oracle.Hash) (oracle.Verdict, error) {
	return f.agg.Submit(src, topic, h, f.signers[src].sign(topic, h))
}

func hashOf(b byte) oracle.Hash {
	var h oracle.Hash
	h[0] = b
	return h
}

func TestDigest_IsKeccak256(t *testing.T) {
	// keccak256 of 32 zero bytes.
	got := oracle.Digest("", oracle.Hash{})
	assert.Equal(t, "290decd9548b62a8d60345a988386fc84ba6bc95484008f6362f93160ef3e563", hex.EncodeToString(got))

	assert.NotEqual(t, oracle.Digest("a", hashOf(1)), oracle.Digest("b", hashOf(1)))
	assert.NotEqual(t, oracle.Digest("a", hashOf(1)), oracle.Digest("a", hashOf(2)))
}

func TestParseHash(t *testing.T) {
	h := hashOf(0xab)
	parsed, err := oracle.ParseHash(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = oracle.ParseHash("0x1234")
	assert.Error(t, err)
	_, err = oracle.ParseHash("zz" + h.String()[4:])
	assert.Error(t, err)
}

// Two sources agreeing with quorum=2: Verified on the second, not before.
func TestSubmit_QuorumReachedOnSecond(t *testing.T) {
	f := newFixture(t, "src-a", "src-b", "src-c")

	v, err := f.submit("src-a", "flight-123", hashOf(1))
	require.NoError(t, err)
	assert.Equal(t, oracle.StatusInsufficient, v.Status)
	assert.Equal(t, int64(1), v.QuorumCount)

	v, err = f.submit("src-b", "flight-123", hashOf(1))
	require.NoError(t, err)
	assert.Equal(t, oracle.StatusVerified, v.Status)
	assert.Equal(t, hashOf(1), v.AgreedHash)
	assert.Equal(t, f.clock.Now(), v.FinalizedAt)
}

func TestSubmit_FirstTerminalStateWins(t *testing.T) {
	f := newFixture(t, "src-a", "src-b", "src-c")

	_, err := f.submit("src-a", "t", hashOf(1))
	require.NoError(t, err)
	_, err = f.submit("src-b", "t", hashOf(1))
	require.NoError(t, err)

	v, err := f.submit("src-c", "t", hashOf(2))
	require.NoError(t, err, "late attestations are still recorded")
	assert.Equal(t, oracle.StatusVerified, v.Status)
	assert.Len(t, f.agg.Attestations("t"), 3)
}

func TestSubmit_Disputed(t *testing.T) {
	f := newFixture(t, "src-a", "src-b", "src-c")

	_, err := f.submit("src-a", "t", hashOf(1))
	require.NoError(t, err)
	v, err := f.submit("src-b", "t", hashOf(2))
	require.NoError(t, err)
	assert.Equal(t, oracle.StatusDisputed, v.Status)

	// A third agreeing attestation does not flip a dispute into Verified.
	v, err = f.submit("src-c", "t", hashOf(1))
	require.NoError(t, err)
	assert.Equal(t, oracle.StatusDisputed, v.Status)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t, "src-a")

	_, err := f.submit("src-a", "t", hashOf(1))
	require.NoError(t, err)

	_, err = f.submit("src-a", "t", hashOf(1))
	assert.ErrorIs(t, err, errs.ErrDuplicateAttestation)

	_, err = f.agg.Submit("nobody", "t", hashOf(1), nil)
	assert.ErrorIs(t, err, errs.ErrUnknownSource)

	_, err = f.agg.Submit("src-a", "other", hashOf(1), f.signers["src-a"].sign("t", hashOf(1)))
	assert.ErrorIs(t, err, errs.ErrSignatureInvalid)

	assert.Len(t, f.agg.Attestations("t"), 1)
	assert.Empty(t, f.agg.Attestations("other"))
}

func TestThresholdsFixedWhenTopicOpens(t *testing.T) {
	f := newFixture(t, "src-a", "src-b", "src-c")

	_, err := f.submit("src-a", "t", hashOf(1))
	require.NoError(t, err)

	require.NoError(t, f.params.Apply(params.Change{Kind: params.ChangeOracleQuorum, Value: 3}))

	v, err := f.submit("src-b", "t", hashOf(1))
	require.NoError(t, err)
	assert.Equal(t, oracle.StatusVerified, v.Status, "open topic keeps quorum=2")

	_, err = f.submit("src-a", "new", hashOf(1))
	require.NoError(t, err)
	v, err = f.submit("src-b", "new", hashOf(1))
	require.NoError(t, err)
	assert.Equal(t, oracle.StatusInsufficient, v.Status, "new topic uses quorum=3")
}

func TestRemoveSource(t *testing.T) {
	f := newFixture(t, "src-a", "src-b")
	_, err := f.submit("src-a", "t", hashOf(1))
	require.NoError(t, err)

	assert.ErrorIs(t, f.agg.RemoveSource("mallory", "src-a"), errs.ErrUnauthorized)
	require.NoError(t, f.agg.RemoveSource("admin", "src-a"))
	assert.False(t, f.agg.IsSource("src-a"))
	assert.Equal(t, []ledger.Principal{"src-b"}, f.agg.Sources())

	_, err = f.submit("src-a", "t2", hashOf(1))
	assert.ErrorIs(t, err, errs.ErrUnknownSource)
	assert.Len(t, f.agg.Attestations("t"), 1, "past attestations stand")
}

func TestDeriveVerdict_Pure(t *testing.T) {
	atts := []oracle.Attestation{
		{Source: "a", PayloadHash: hashOf(1)},
		{Source: "b", PayloadHash: hashOf(1)},
		{Source: "c", PayloadHash: hashOf(1)},
	}
	v := oracle.DeriveVerdict("t", atts, 3, 2)
	assert.Equal(t, oracle.StatusVerified, v.Status)
	assert.Equal(t, int64(3), v.QuorumCount)

	// Conflicting hashes below the dispute threshold stay Insufficient.
	atts = []oracle.Attestation{
		{Source: "a", PayloadHash: hashOf(1)},
		{Source: "b", PayloadHash: hashOf(2)},
	}
	v = oracle.DeriveVerdict("t", atts, 3, 2)
	assert.Equal(t, oracle.StatusInsufficient, v.Status)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, "src-a", "src-b")
	_, err := f.submit("src-a", "t", hashOf(1))
	require.NoError(t, err)

	snap := f.agg.Snapshot()
	g := newFixture(t)
	g.agg.Restore(snap)

	assert.True(t, g.agg.IsSource("src-b"))
	assert.Equal(t, f.agg.Verdict("t"), g.agg.Verdict("t"))
	require.NoError(t, g.agg.Validate())

	// Keys come back with the snapshot, so src-b can still sign.
	g.signers = f.signers
	v, err := g.submit("src-b", "t", hashOf(1))
	require.NoError(t, err)
	assert.Equal(t, oracle.StatusVerified, v.Status)
}
