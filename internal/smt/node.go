// Package smt implements the depth-D sparse Merkle tree used by the
// relayer and indexer: a Poseidon-hashed tree over a 65-byte node
// encoding, with pluggable persistent storage and circuit-shaped
// membership/non-membership proofs.
package smt

import "fmt"

// NodeKind tags the two node variants that can live in the tree.
type NodeKind uint8

const (
	KindMiddle NodeKind = 0
	KindLeaf   NodeKind = 1
)

// KeyLen and ValLen are the fixed field-element widths the tree is built
// from: 32-byte big-endian encodings of BN254-scalar-sized values.
const (
	KeyLen      = 32
	ValLen      = 32
	encodedLen  = 1 + 2*KeyLen // tag + two 32-byte payload slots
	zeroHashLen = 32
)

// ZeroHash is the sentinel for an absent subtree; it is never the output
// of Poseidon and is never written to the store as a distinct node.
var ZeroHash [32]byte

// Node is a tagged Middle or Leaf node of the tree.
type Node struct {
	Kind NodeKind

	// Middle
	Left  [32]byte
	Right [32]byte

	// Leaf
	Key   [32]byte
	Value [32]byte
}

// NewMiddle builds a Middle node from its two children hashes.
func NewMiddle(left, right [32]byte) Node {
	return Node{Kind: KindMiddle, Left: left, Right: right}
}

// NewLeaf builds a Leaf node carrying its own tree key and value.
func NewLeaf(key, value [32]byte) Node {
	return Node{Kind: KindLeaf, Key: key, Value: value}
}

// Hash computes the node's hash per spec: Poseidon(left, right) for a
// Middle, Poseidon(key, value, 1) for a Leaf.
func (n Node) Hash() ([32]byte, error) {
	switch n.Kind {
	case KindMiddle:
		return hashMiddle(n.Left, n.Right)
	case KindLeaf:
		return hashLeaf(n.Key, n.Value)
	default:
		return [32]byte{}, fmt.Errorf("smt: unknown node kind %d", n.Kind)
	}
}

// Encode serializes a node to its 65-byte on-disk form: 1-byte tag
// followed by 64 bytes of payload (two 32-byte words).
func (n Node) Encode() []byte {
	buf := make([]byte, encodedLen)
	buf[0] = byte(n.Kind)
	switch n.Kind {
	case KindMiddle:
		copy(buf[1:1+KeyLen], n.Left[:])
		copy(buf[1+KeyLen:], n.Right[:])
	case KindLeaf:
		copy(buf[1:1+KeyLen], n.Key[:])
		copy(buf[1+KeyLen:], n.Value[:])
	}
	return buf
}

// Decode parses the 65-byte on-disk form back into a Node. It returns
// false if the length or tag is invalid.
func Decode(b []byte) (Node, bool) {
	if len(b) != encodedLen {
		return Node{}, false
	}
	var n Node
	switch NodeKind(b[0]) {
	case KindMiddle:
		n.Kind = KindMiddle
		copy(n.Left[:], b[1:1+KeyLen])
		copy(n.Right[:], b[1+KeyLen:])
	case KindLeaf:
		n.Kind = KindLeaf
		copy(n.Key[:], b[1:1+KeyLen])
		copy(n.Value[:], b[1+KeyLen:])
	default:
		return Node{}, false
	}
	return n, true
}
