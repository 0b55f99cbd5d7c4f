package prover

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kysee/zk-anon-vote/internal/circuit"
	"github.com/kysee/zk-anon-vote/internal/smt"
)

func b32(v byte) [32]byte {
	var out [32]byte
	out[31] = v
	return out
}

// TestBuildWitness_FirstInsert checks the witness for an admission into two
// empty trees reconstructs a root_state_after consistent with a direct
// leaf-hash root (no sibling combination), mirroring smt.Tree's own
// empty-tree insert behavior (spec §4.D step 6).
func TestBuildWitness_FirstInsert(t *testing.T) {
	in := RelayWitnessInput{
		Nu:        b32(7),
		MsgHash:   b32(9),
		MsgLimit:  3,
		QuotaKey:  b32(7),
		PrevCount: 0,
		Quota:     TreeProof{RootBefore: smt.ZeroHash, Proof: smt.Proof{IsOld0: true}},
		Uniq:      TreeProof{RootBefore: smt.ZeroHash, Proof: smt.Proof{IsOld0: true}},
	}

	w, pub := BuildWitness(in)
	require.NotNil(t, w)
	require.Equal(t, in.MsgHash, pub.MsgHash)

	wantRootStateAfter := circuit.NativePoseidonMiddle(
		circuit.NativePoseidonLeaf(big.NewInt(7), big.NewInt(1)),
		circuit.NativePoseidonLeaf(big.NewInt(9), big.NewInt(1)))
	require.Equal(t, toBE32(wantRootStateAfter), pub.RootStateAfter)

	for i := 0; i < len(w.ActiveQuota); i++ {
		require.Equal(t, 0, w.ActiveQuota[i])
		require.Equal(t, 0, w.ActiveUniq[i])
	}
}

// TestBuildWitness_UpdateExisting checks a quota leaf being bumped past its
// first admission folds its single recorded sibling in.
func TestBuildWitness_UpdateExisting(t *testing.T) {
	sibling := b32(42)
	in := RelayWitnessInput{
		Nu:        b32(7),
		MsgHash:   b32(9),
		MsgLimit:  3,
		QuotaKey:  b32(7),
		PrevCount: 1,
		Quota: TreeProof{
			RootBefore: b32(1),
			Proof: smt.Proof{
				Siblings:   [][32]byte{sibling},
				IsOld0:     false,
				OldKey:     b32(7),
				OldValue:   b32(1),
				Membership: true,
			},
		},
		Uniq: TreeProof{RootBefore: smt.ZeroHash, Proof: smt.Proof{IsOld0: true}},
	}

	w, _ := BuildWitness(in)
	require.Equal(t, 1, w.ActiveQuota[0])
	for i := 1; i < len(w.ActiveQuota); i++ {
		require.Equal(t, 0, w.ActiveQuota[i])
	}
}

// TestFoldInsert_RelocatesCollidingLeaf reproduces the confirm scenario
// from the collision bug report: insert K1 into an empty tree, then
// GetProof(K2) returns an empty sibling list (the proof terminated right
// on K1's leaf). Folding the "after" root for K2 must relocate K1 into a
// Middle alongside K2, not discard it.
func TestFoldInsert_RelocatesCollidingLeaf(t *testing.T) {
	existingKey := b32(2) // ...010: bit0 = 0
	existingValue := b32(9)
	newKeyBytes := b32(3) // ...011: bit0 = 1, diverges immediately
	newKey := be32(newKeyBytes)
	newValue := big.NewInt(1)

	p := smt.Proof{IsOld0: false, OldKey: existingKey, OldValue: existingValue}
	got := foldInsert(p, newKey, newValue)

	existingLeaf := circuit.NativePoseidonLeaf(be32(existingKey), be32(existingValue))
	newLeaf := circuit.NativePoseidonLeaf(newKey, newValue)
	want := circuit.NativePoseidonMiddle(existingLeaf, newLeaf)

	require.Equal(t, 0, got.Cmp(want))
}

// TestFoldInsert_RelocatesAfterSharedPrefixBit checks the multi-level
// case: the colliding keys share one path bit before diverging, so the
// existing leaf must be pushed one level deeper (one-sided Middle with a
// zero sibling) before the two leaves are merged.
func TestFoldInsert_RelocatesAfterSharedPrefixBit(t *testing.T) {
	existingKey := b32(4) // ...100: bit0 = 0, bit1 = 0
	existingValue := b32(11)
	newKeyBytes := b32(2) // ...010: bit0 = 0, bit1 = 1 -> diverges at level 1
	newKey := be32(newKeyBytes)
	newValue := big.NewInt(1)

	p := smt.Proof{IsOld0: false, OldKey: existingKey, OldValue: existingValue}
	got := foldInsert(p, newKey, newValue)

	existingLeaf := circuit.NativePoseidonLeaf(be32(existingKey), be32(existingValue))
	newLeaf := circuit.NativePoseidonLeaf(newKey, newValue)
	merged := circuit.NativePoseidonMiddle(existingLeaf, newLeaf) // new's bit1 = 1 -> existing left, new right
	want := circuit.NativePoseidonMiddle(merged, big.NewInt(0))   // existing's bit0 = 0 -> merged left, zero right

	require.Equal(t, 0, got.Cmp(want))
}
