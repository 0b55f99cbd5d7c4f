// Package prover turns a relay request's SMT proofs into a Groth16 witness
// for circuit.RelayCircuit, runs the proving key against it, and compresses
// the resulting proof to the (32,64,32)-byte on-chain wire format (spec
// §4.D step 6, §6).
package prover

import (
	"math/big"

	"github.com/kysee/zk-anon-vote/internal/circuit"
	"github.com/kysee/zk-anon-vote/internal/smt"
)

// TreeProof carries the pieces of an smt.Proof a witness needs, plus the
// tree's root before the update — kept separate from smt.Proof so this
// package has no need to reach into store internals.
type TreeProof struct {
	RootBefore [32]byte
	Proof      smt.Proof
}

// RelayWitnessInput is everything BuildWitness needs to assign a full
// RelayCircuit witness for one admitted message (spec §4.D steps 1-6).
type RelayWitnessInput struct {
	Nu        [32]byte
	MsgHash   [32]byte
	MsgLimit  uint64
	QuotaKey  [32]byte // ν truncated to the low D/8 bytes (spec §4.D step 2)
	PrevCount uint64

	Quota TreeProof
	Uniq  TreeProof
}

// PublicInputs mirrors the Rust relayer's RelayPublicInputs: the five
// public values a verifier checks a compressed proof against.
type PublicInputs struct {
	RootStateBefore [32]byte
	RootStateAfter  [32]byte
	NuHash          [32]byte
	MsgHash         [32]byte
	MsgLimit        [32]byte
}

func be32(b [32]byte) *big.Int { return new(big.Int).SetBytes(b[:]) }

func toBE32(x *big.Int) [32]byte {
	var out [32]byte
	x.FillBytes(out[:])
	return out
}

// padProof expands an smt.Proof's variable-length sibling list to a fixed
// TreeDepth array plus the "active" gate sequence circuit.smtVerifyAndInsert
// expects: 1 for the real (shallow) levels the proof actually recorded, 0
// for the trailing padding toward the leaf.
func padProof(p smt.Proof) (siblings [circuit.TreeDepth]*big.Int, active [circuit.TreeDepth]int) {
	for i := 0; i < circuit.TreeDepth; i++ {
		if i < len(p.Siblings) {
			siblings[i] = be32(p.Siblings[i])
			active[i] = 1
		} else {
			siblings[i] = big.NewInt(0)
			active[i] = 0
		}
	}
	return
}

// BuildWitness assigns a RelayCircuit from in, computing the public
// root_state_before/after and nu_hash values with the circuit's own native
// Poseidon mirror (circuit.NativePoseidonMiddle/Leaf) so they agree with
// what RelayCircuit.Define will reconstruct in-circuit.
func BuildWitness(in RelayWitnessInput) (*circuit.RelayCircuit, PublicInputs) {
	rootQuotaBefore := be32(in.Quota.RootBefore)
	rootUniqBefore := be32(in.Uniq.RootBefore)
	nu := be32(in.Nu)
	msgHash := be32(in.MsgHash)
	quotaKey := be32(in.QuotaKey)
	msgLimit := new(big.Int).SetUint64(in.MsgLimit)
	prevCount := new(big.Int).SetUint64(in.PrevCount)

	rootStateBefore := circuit.NativePoseidonMiddle(rootQuotaBefore, rootUniqBefore)
	nuHash := circuit.NativePoseidonMiddle(nu, big.NewInt(0))

	newQuotaValue := new(big.Int).Add(prevCount, big.NewInt(1))
	rootQuotaAfter := foldInsert(in.Quota.Proof, quotaKey, newQuotaValue)
	rootUniqAfter := foldInsert(in.Uniq.Proof, msgHash, big.NewInt(1))
	rootStateAfter := circuit.NativePoseidonMiddle(rootQuotaAfter, rootUniqAfter)

	quotaSiblings, quotaActive := padProof(in.Quota.Proof)
	uniqSiblings, uniqActive := padProof(in.Uniq.Proof)

	w := &circuit.RelayCircuit{
		RootStateBefore: rootStateBefore,
		RootStateAfter:  rootStateAfter,
		NuHash:          nuHash,
		MsgHash:         msgHash,
		MsgLimit:        msgLimit,

		RootQuotaBefore: rootQuotaBefore,
		RootUniqBefore:  rootUniqBefore,
		Nu:              nu,
		PrevCount:       prevCount,

		NoAuxQuota:    boolVar(in.Quota.Proof.IsOld0),
		AuxKeyQuota:   be32(in.Quota.Proof.OldKey),
		AuxValueQuota: be32(in.Quota.Proof.OldValue),

		NoAuxUniq:    boolVar(in.Uniq.Proof.IsOld0),
		AuxKeyUniq:   be32(in.Uniq.Proof.OldKey),
		AuxValueUniq: be32(in.Uniq.Proof.OldValue),
	}
	for i := 0; i < circuit.TreeDepth; i++ {
		w.SiblingsQuota[i] = quotaSiblings[i]
		w.ActiveQuota[i] = quotaActive[i]
		w.SiblingsUniq[i] = uniqSiblings[i]
		w.ActiveUniq[i] = uniqActive[i]
	}

	pub := PublicInputs{
		RootStateBefore: toBE32(rootStateBefore),
		RootStateAfter:  toBE32(rootStateAfter),
		NuHash:          toBE32(nuHash),
		MsgHash:         in.MsgHash,
		MsgLimit:        toBE32(msgLimit),
	}
	return w, pub
}

func boolVar(b bool) int {
	if b {
		return 1
	}
	return 0
}

// foldInsert is the native-arithmetic twin of circuit.smtVerifyAndInsert's
// "after" pass: it reconstructs the new root from the proof, relocating
// any existing leaf occupying the insertion slot one or more levels
// deeper until it diverges from the new key (mirroring smt.Tree.pushLeaf)
// before folding back up through the proof's recorded siblings.
func foldInsert(p smt.Proof, key, value *big.Int) *big.Int {
	boundary := len(p.Siblings)

	var cur *big.Int
	switch {
	case p.IsOld0:
		cur = circuit.NativePoseidonLeaf(key, value)
	case be32(p.OldKey).Cmp(key) == 0:
		// Update in place: same leaf position, new value.
		cur = circuit.NativePoseidonLeaf(key, value)
	default:
		cur = relocateAndMerge(p.OldKey, p.OldValue, key, value, boundary)
	}

	keyBytes := toBE32(key)
	for i := boundary - 1; i >= 0; i-- {
		sib := be32(p.Siblings[i])
		if bitAt(keyBytes, i) == 0 {
			cur = circuit.NativePoseidonMiddle(cur, sib)
		} else {
			cur = circuit.NativePoseidonMiddle(sib, cur)
		}
	}
	return cur
}

// relocateAndMerge mirrors smt.Tree.pushLeaf: starting at depth `from`, it
// descends while the existing and new keys' path bits agree (wrapping a
// one-sided Middle with a zero sibling at each such level), then merges
// both leaves as the two children of a Middle at the level their paths
// first diverge.
func relocateAndMerge(existingKey, existingValue [32]byte, newKey, newValue *big.Int, from int) *big.Int {
	newKeyBytes := toBE32(newKey)
	existingKeyBig := be32(existingKey)

	depth := from
	for bitAt(existingKey, depth) == bitAt(newKeyBytes, depth) {
		depth++
		if depth >= circuit.TreeDepth {
			panic("smt: tree depth exceeded while relocating leaf")
		}
	}

	existingLeaf := circuit.NativePoseidonLeaf(existingKeyBig, be32(existingValue))
	newLeaf := circuit.NativePoseidonLeaf(newKey, newValue)

	var cur *big.Int
	if bitAt(newKeyBytes, depth) == 0 {
		cur = circuit.NativePoseidonMiddle(newLeaf, existingLeaf)
	} else {
		cur = circuit.NativePoseidonMiddle(existingLeaf, newLeaf)
	}
	for i := depth - 1; i >= from; i-- {
		if bitAt(existingKey, i) == 0 {
			cur = circuit.NativePoseidonMiddle(cur, big.NewInt(0))
		} else {
			cur = circuit.NativePoseidonMiddle(big.NewInt(0), cur)
		}
	}
	return cur
}

func bitAt(key [32]byte, i int) int {
	byteIdx := 31 - i/8
	bitIdx := uint(i % 8)
	return int((key[byteIdx] >> bitIdx) & 1)
}
