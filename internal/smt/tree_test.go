package smt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testDepth = 64

func bytes32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

// TestTreeThreeInsertVector reproduces the original implementation's
// three-insert fixture (spec §8 scenario 1/2): each add_or_update's proof
// and the resulting root are checked against known-good values.
func TestTreeThreeInsertVector(t *testing.T) {
	store := NewInMemoryNodeStore()
	var prefix [PrefixLen]byte
	tree, err := New(store, prefix, testDepth)
	require.NoError(t, err)
	require.Equal(t, ZeroHash, tree.Root())

	batch := store.NewBatch()

	k1 := bytes32([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 43, 127, 78, 51, 93, 159, 92, 71})
	v1 := bytes32([]byte{16, 232, 248, 117, 61, 208, 169, 22, 163, 170, 44, 57, 210, 21, 42, 219, 91, 147, 79, 94, 181, 31, 210, 205, 159, 82, 222, 81, 110, 255, 37, 198})

	p1, err := tree.GetProof(k1)
	require.NoError(t, err)
	require.NoError(t, tree.AddOrUpdate(batch, k1, v1))
	require.False(t, p1.Membership)
	require.True(t, p1.IsOld0)
	require.Equal(t, ZeroHash, p1.OldKey)
	require.Equal(t, ZeroHash, p1.OldValue)
	for _, s := range p1.Siblings {
		require.Equal(t, ZeroHash, s)
	}

	root1 := bytes32([]byte{37, 18, 9, 85, 224, 252, 133, 154, 45, 120, 67, 166, 143, 180, 254, 196, 219, 139, 9, 229, 191, 47, 36, 89, 138, 111, 104, 170, 242, 127, 191, 38})
	require.Equal(t, root1, tree.Root())

	k2 := bytes32([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 211, 160, 91, 130, 253, 193, 133, 52})
	v2 := bytes32([]byte{2, 135, 56, 32, 251, 187, 59, 31, 232, 236, 204, 116, 101, 171, 47, 15, 159, 138, 139, 231, 61, 78, 108, 10, 70, 133, 200, 198, 187, 100, 85, 178})

	p2, err := tree.GetProof(k2)
	require.NoError(t, err)
	require.NoError(t, tree.AddOrUpdate(batch, k2, v2))
	require.False(t, p2.Membership)
	require.False(t, p2.IsOld0)
	require.Equal(t, k1, p2.OldKey)
	require.Equal(t, v1, p2.OldValue)
	for _, s := range p2.Siblings {
		require.Equal(t, ZeroHash, s)
	}

	k3 := bytes32([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 74, 181, 123, 89, 155, 208, 255, 114})
	v3 := bytes32([]byte{16, 46, 63, 228, 134, 35, 92, 132, 114, 153, 57, 23, 154, 224, 217, 112, 131, 208, 134, 232, 218, 170, 173, 245, 178, 128, 151, 223, 2, 64, 114, 19})

	p3, err := tree.GetProof(k3)
	require.NoError(t, err)
	require.NoError(t, tree.AddOrUpdate(batch, k3, v3))
	require.False(t, p3.Membership)
	require.False(t, p3.IsOld0)
	require.Equal(t, k2, p3.OldKey)
	require.Equal(t, v2, p3.OldValue)
	require.Equal(t, root1, p3.Siblings[0])
	for _, s := range p3.Siblings[1:] {
		require.Equal(t, ZeroHash, s)
	}

	v4 := bytes32([]byte{34, 105, 95, 86, 39, 160, 123, 45, 219, 68, 91, 94, 55, 161, 223, 203, 206, 164, 203, 253, 33, 59, 150, 111, 108, 74, 20, 17, 62, 214, 104, 58})

	// Update: update(k3, v4) returns the prior value, and a
	// fresh proof for k3 reports membership with the new value (spec §8
	// scenario 2).
	p4, err := tree.GetProof(k3)
	require.NoError(t, err)
	prev, err := tree.Update(batch, k3, v4)
	require.NoError(t, err)
	require.Equal(t, v3, prev)
	require.True(t, p4.Membership)
	require.False(t, p4.IsOld0)
	require.Equal(t, k3, p4.OldKey)
	require.Equal(t, v3, p4.OldValue)
	require.Equal(t, root1, p4.Siblings[0])
	expectedSibling1 := bytes32([]byte{39, 2, 121, 120, 126, 69, 90, 96, 220, 95, 224, 252, 255, 197, 106, 214, 4, 22, 155, 164, 67, 176, 180, 82, 34, 37, 226, 17, 201, 250, 187, 58})
	require.Equal(t, expectedSibling1, p4.Siblings[1])
	for _, s := range p4.Siblings[2:] {
		require.Equal(t, ZeroHash, s)
	}

	freshProof, err := tree.GetProof(k3)
	require.NoError(t, err)
	require.True(t, freshProof.Membership)
	require.Equal(t, v4, freshProof.OldValue)
}

func TestNodeEncodeDecodeRoundTrip(t *testing.T) {
	middle := NewMiddle(bytes32([]byte{1}), bytes32([]byte{2}))
	decodedMiddle, ok := Decode(middle.Encode())
	require.True(t, ok)
	require.Equal(t, middle, decodedMiddle)

	leaf := NewLeaf(bytes32([]byte{3}), bytes32([]byte{4}))
	decodedLeaf, ok := Decode(leaf.Encode())
	require.True(t, ok)
	require.Equal(t, leaf, decodedLeaf)

	_, ok = Decode(make([]byte, 64))
	require.False(t, ok)

	bad := middle.Encode()
	bad[0] = 2
	_, ok = Decode(bad)
	require.False(t, ok)
}

func TestAddDuplicateFails(t *testing.T) {
	store := NewInMemoryNodeStore()
	var prefix [PrefixLen]byte
	tree, err := New(store, prefix, testDepth)
	require.NoError(t, err)
	batch := store.NewBatch()

	k := bytes32([]byte{9})
	v := bytes32([]byte{1})
	require.NoError(t, tree.Add(batch, k, v))
	err = tree.Add(batch, k, v)
	require.ErrorIs(t, err, ErrAlreadyPresent)
}

func TestUpdateMissingKeyFails(t *testing.T) {
	store := NewInMemoryNodeStore()
	var prefix [PrefixLen]byte
	tree, err := New(store, prefix, testDepth)
	require.NoError(t, err)
	batch := store.NewBatch()

	_, err = tree.Update(batch, bytes32([]byte{1}), bytes32([]byte{2}))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

// TestTreeRootDeterminism checks that inserting the same (k,v) set in a
// different order yields the same root (spec §8 "SMT root determinism").
func TestTreeRootDeterminism(t *testing.T) {
	kvs := []struct{ k, v [32]byte }{
		{[32]byte{31: 1}, bytes32([]byte{10})},
		{[32]byte{31: 2}, bytes32([]byte{20})},
		{[32]byte{31: 3}, bytes32([]byte{30})},
	}

	build := func(order []int) [32]byte {
		store := NewInMemoryNodeStore()
		var prefix [PrefixLen]byte
		tree, err := New(store, prefix, testDepth)
		require.NoError(t, err)
		batch := store.NewBatch()
		for _, i := range order {
			require.NoError(t, tree.Add(batch, kvs[i].k, kvs[i].v))
		}
		return tree.Root()
	}

	rootA := build([]int{0, 1, 2})
	rootB := build([]int{2, 0, 1})
	rootC := build([]int{1, 2, 0})
	require.Equal(t, rootA, rootB)
	require.Equal(t, rootA, rootC)
}

// TestPoseidonTestVector checks poseidon(0,0) is stable and that it
// differs from poseidon(0,1), a basic sanity check on the Middle-node
// hash used throughout the tree (the exact HASH_0_0 constant in spec §8
// is given there with elided middle bytes and is not reproduced here).
func TestPoseidonTestVector(t *testing.T) {
	h1, err := hashMiddle(ZeroHash, ZeroHash)
	require.NoError(t, err)
	h2, err := hashMiddle(ZeroHash, ZeroHash)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	one := ZeroHash
	one[31] = 1
	h3, err := hashMiddle(ZeroHash, one)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
