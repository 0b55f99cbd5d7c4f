package circuit

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
)

// fr is the BN254 scalar field modulus, the field RelayCircuit is compiled
// over; native Poseidon evaluation reduces into it exactly as the R1CS
// constraints do implicitly.
var fr = ecc.BN254.ScalarField()

// NativePoseidonMiddle and NativePoseidonLeaf are plain big.Int mirrors of
// HashMiddle/HashLeaf, evaluated outside a circuit. internal/prover uses
// them to compute the public root_state_before/root_state_after/nu_hash
// values a request's witness must carry — gnark circuits only *check*
// consistency of supplied public inputs, they don't derive them, so the
// witness builder needs a caller-side implementation of the same
// permutation the circuit runs in-R1CS.
func NativePoseidonMiddle(left, right *big.Int) *big.Int {
	state := [3]*big.Int{new(big.Int).Set(left), new(big.Int).Set(right), big.NewInt(0)}
	return nativePermute(state)[0]
}

func NativePoseidonLeaf(key, value *big.Int) *big.Int {
	state := [3]*big.Int{new(big.Int).Set(key), new(big.Int).Set(value), big.NewInt(1)}
	return nativePermute(state)[0]
}

func nativeSbox(x *big.Int) *big.Int {
	x2 := new(big.Int).Mul(x, x)
	x2.Mod(x2, fr)
	x4 := new(big.Int).Mul(x2, x2)
	x4.Mod(x4, fr)
	out := new(big.Int).Mul(x4, x)
	out.Mod(out, fr)
	return out
}

func nativeMix(p *poseidonT3, state [3]*big.Int) [3]*big.Int {
	var out [3]*big.Int
	for i := 0; i < 3; i++ {
		acc := big.NewInt(0)
		for j := 0; j < 3; j++ {
			term := new(big.Int).Mul(p.mds[i][j], state[j])
			acc.Add(acc, term)
		}
		acc.Mod(acc, fr)
		out[i] = acc
	}
	return out
}

func nativePermute(state [3]*big.Int) [3]*big.Int {
	p := poseidonParams
	half := poseidonFullRounds / 2
	round := 0

	addRC := func(s [3]*big.Int) [3]*big.Int {
		var out [3]*big.Int
		for i := 0; i < 3; i++ {
			v := new(big.Int).Add(s[i], p.rc[round][i])
			v.Mod(v, fr)
			out[i] = v
		}
		return out
	}

	for i := 0; i < half; i++ {
		state = addRC(state)
		for j := 0; j < 3; j++ {
			state[j] = nativeSbox(state[j])
		}
		state = nativeMix(p, state)
		round++
	}
	for i := 0; i < poseidonPartialRounds; i++ {
		state = addRC(state)
		state[0] = nativeSbox(state[0])
		state = nativeMix(p, state)
		round++
	}
	for i := 0; i < half; i++ {
		state = addRC(state)
		for j := 0; j < 3; j++ {
			state[j] = nativeSbox(state[j])
		}
		state = nativeMix(p, state)
		round++
	}
	return state
}
