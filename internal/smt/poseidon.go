package smt

import (
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// hashMiddle and hashLeaf wrap iden3's Poseidon permutation, the same
// hash family "smt-circom" trees are built on (arity selected by input
// count, big-endian byte encoding, BN254 scalar field per spec §4.B).

func hashMiddle(left, right [32]byte) ([32]byte, error) {
	return poseidonHash(left[:], right[:])
}

func hashLeaf(key, value [32]byte) ([32]byte, error) {
	one := [32]byte{}
	one[31] = 1
	return poseidonHash(key[:], value[:], one[:])
}

func poseidonHash(inputs ...[]byte) ([32]byte, error) {
	ins := make([]*big.Int, len(inputs))
	for i, b := range inputs {
		ins[i] = new(big.Int).SetBytes(b)
	}
	h, err := poseidon.Hash(ins)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	h.FillBytes(out[:])
	return out, nil
}
