package circuit

import (
	"github.com/consensys/gnark/frontend"
)

// TreeDepth mirrors state.TreeDepth; duplicated here so the circuit package
// has no import-time dependency on the store layer.
const TreeDepth = 64

// RelayCircuit proves one relay admission (spec §4.D step 6): given the
// quota and uniqueness trees' roots before the request, and Merkle proofs
// against both, it checks that admitting msg_hash under ν's quota index
// yields the claimed roots after, without revealing ν or either tree's
// internal structure.
//
// RootStateBefore/After are single public commitments over the pair of
// tree roots (Poseidon(root_quota, root_uniq)); the two underlying roots
// themselves stay private witness values, matching the shape the original
// relayer's prover.rs builds (RootQuota_before/RootUniq_before are
// witness-only; only the combined root pair and ν's hash are public).
type RelayCircuit struct {
	RootStateBefore frontend.Variable `gnark:",public"`
	RootStateAfter  frontend.Variable `gnark:",public"`
	NuHash          frontend.Variable `gnark:",public"`
	MsgHash         frontend.Variable `gnark:",public"`
	MsgLimit        frontend.Variable `gnark:",public"`

	RootQuotaBefore frontend.Variable
	RootUniqBefore  frontend.Variable
	Nu              frontend.Variable
	PrevCount       frontend.Variable

	SiblingsQuota [TreeDepth]frontend.Variable
	ActiveQuota   [TreeDepth]frontend.Variable
	NoAuxQuota    frontend.Variable
	AuxKeyQuota   frontend.Variable
	AuxValueQuota frontend.Variable

	SiblingsUniq [TreeDepth]frontend.Variable
	ActiveUniq   [TreeDepth]frontend.Variable
	NoAuxUniq    frontend.Variable
	AuxKeyUniq   frontend.Variable
	AuxValueUniq frontend.Variable
}

// fieldBits is the bit width used to decompose a BN254 Fr witness value
// before slicing out the low TreeDepth path bits; it only needs to exceed
// the modulus bit length (254), gnark pads the rest with zero constraints.
const fieldBits = 256

func (c *RelayCircuit) Define(api frontend.API) error {
	// root_state = Poseidon(root_quota, root_uniq), asserted at both ends
	// of the transition (spec §4.D step 6 / §6 instruction layout).
	api.AssertIsEqual(c.RootStateBefore, HashMiddle(api, c.RootQuotaBefore, c.RootUniqBefore))

	nuBits := api.ToBinary(c.Nu, fieldBits)
	quotaPath := nuBits[:TreeDepth]
	quotaKey := api.FromBinary(quotaPath...)

	api.AssertIsEqual(c.NuHash, HashMiddle(api, c.Nu, 0))

	// prev_count is only meaningful when the quota leaf already exists
	// under this same index; when the slot is empty, or occupied by some
	// other index that merely shares a path prefix with it (a genuine
	// tree collision, resolved below by relocating that other leaf), the
	// count starts fresh at zero. Either way it must sit below the limit
	// (spec §4.D step 4).
	sameQuotaKey := isEqualToZero(api, api.Sub(c.AuxKeyQuota, quotaKey))
	occupiedQuota := api.Sub(1, c.NoAuxQuota)
	api.AssertIsEqual(api.Mul(api.Mul(occupiedQuota, api.Sub(1, sameQuotaKey)), c.PrevCount), 0)
	api.AssertIsEqual(api.Mul(c.NoAuxQuota, c.PrevCount), 0)
	api.AssertIsEqual(api.Mul(api.Mul(occupiedQuota, sameQuotaKey), api.Sub(c.AuxValueQuota, c.PrevCount)), 0)
	assertLess(api, c.PrevCount, c.MsgLimit)

	newQuotaValue := api.Add(c.PrevCount, 1)
	rootQuotaAfter := smtVerifyAndInsert(api, quotaPath, c.ActiveQuota[:], c.SiblingsQuota[:],
		c.NoAuxQuota, c.AuxKeyQuota, c.AuxValueQuota, quotaKey, newQuotaValue, c.RootQuotaBefore)

	// Uniqueness tree: msg_hash must be previously absent (MessageDuplicated
	// is rejected off-circuit before a proof is even requested, spec §4.D
	// step 3; the circuit still enforces it holds for the committed root).
	msgBits := api.ToBinary(c.MsgHash, fieldBits)
	uniqPath := msgBits[:TreeDepth]
	differentUniqKey := api.Sub(c.AuxKeyUniq, c.MsgHash)
	api.AssertIsEqual(api.Mul(api.Sub(1, c.NoAuxUniq), isEqualToZero(api, differentUniqKey)), 0)

	rootUniqAfter := smtVerifyAndInsert(api, uniqPath, c.ActiveUniq[:], c.SiblingsUniq[:],
		c.NoAuxUniq, c.AuxKeyUniq, c.AuxValueUniq, c.MsgHash, 1, c.RootUniqBefore)

	api.AssertIsEqual(c.RootStateAfter, HashMiddle(api, rootQuotaAfter, rootUniqAfter))
	return nil
}

// assertLess enforces a < b for values known to fit comfortably under the
// field's bit width, by asserting 1 <= b-a and range-checking b-a to 65
// bits (TreeDepth-width counters never approach the field's size).
func assertLess(api frontend.API, a, b frontend.Variable) {
	diff := api.Sub(b, a)
	api.AssertIsLessOrEqual(1, diff)
	bits := api.ToBinary(diff, 65)
	api.FromBinary(bits...) // range-checks diff fits in 65 bits
}

// isEqualToZero returns 1 when x is the zero field element, else 0.
func isEqualToZero(api frontend.API, x frontend.Variable) frontend.Variable {
	return api.IsZero(x)
}

// smtVerifyAndInsert checks that oldRoot is consistent with the given
// non-membership/membership proof along path (auxKey/auxValue/noAux
// describing whatever currently occupies the terminal position), then
// returns the root after replacing that position's leaf with
// Hash(newKey, newValue, 1).
//
// active[i] gates whether level i (0 = shallowest, len-1 = deepest)
// participates in the real proof or is trailing padding below the tree's
// actual occupied depth; it must be a monotonically non-increasing 0/1
// sequence (once it drops to 0 it stays 0 for all deeper levels). This
// mirrors the "lev2ins" bookkeeping smt-circom style circuits compute
// internally from the compiled R1CS; built by hand it is carried as an
// explicit witness input instead (internal/prover derives it when building
// each request's witness — see DESIGN.md).
//
// When the terminal slot is occupied by a key other than newKey — a
// genuine tree collision, not an update-in-place — the "after" pass
// relocates the existing leaf deeper until its path diverges from
// newKey's, exactly mirroring smt.Tree.pushLeaf, instead of silently
// discarding it. The divergence level needs no separate witness: both
// keys' full-depth path bits are already available (auxKey is decomposed
// below the same way Nu/MsgHash are), so the first level at which they
// differ is derived directly.
func smtVerifyAndInsert(api frontend.API, pathBits, active, siblings []frontend.Variable,
	noAux, auxKey, auxValue, newKey, newValue, oldRoot frontend.Variable) frontend.Variable {
	depth := len(pathBits)

	for i := 0; i < depth; i++ {
		api.AssertIsBoolean(active[i])
	}
	for i := 0; i < depth-1; i++ {
		api.AssertIsEqual(api.Mul(active[i+1], api.Sub(1, active[i])), 0)
	}

	oldLeaf := api.Select(noAux, frontend.Variable(0), HashLeaf(api, auxKey, auxValue))
	curOld := oldLeaf
	for i := depth - 1; i >= 0; i-- {
		bit := pathBits[i]
		sib := siblings[i]
		left := api.Select(bit, sib, curOld)
		right := api.Select(bit, curOld, sib)
		combined := HashMiddle(api, left, right)
		curOld = api.Select(active[i], combined, curOld)
	}
	api.AssertIsEqual(curOld, oldRoot)

	auxBits := api.ToBinary(auxKey, fieldBits)[:depth]
	sameKey := isEqualToZero(api, api.Sub(auxKey, newKey))
	relocate := api.Mul(api.Sub(1, noAux), api.Sub(1, sameKey))

	bitsDiffer := make([]frontend.Variable, depth)
	for i := 0; i < depth; i++ {
		bitsDiffer[i] = api.Sub(1, isEqualToZero(api, api.Sub(auxBits[i], pathBits[i])))
	}

	// matchedSoFar[i]: the two keys have not yet diverged at any padding
	// level shallower than i. It resets to 1 while still inside the real
	// (active) proof zone, since divergence only has meaning below it.
	matchedSoFar := make([]frontend.Variable, depth+1)
	matchedSoFar[0] = frontend.Variable(1)
	for i := 0; i < depth; i++ {
		stillMatching := api.Mul(matchedSoFar[i], api.Sub(1, bitsDiffer[i]))
		matchedSoFar[i+1] = api.Select(active[i], frontend.Variable(1), stillMatching)
	}

	existingLeaf := HashLeaf(api, auxKey, auxValue)
	newLeaf := HashLeaf(api, newKey, newValue)
	curNew := newLeaf
	divergedSum := frontend.Variable(0)
	for i := depth - 1; i >= 0; i-- {
		padding := api.Sub(1, active[i])
		mergeHere := api.Mul(api.Mul(relocate, padding), api.Mul(matchedSoFar[i], bitsDiffer[i]))
		pushHere := api.Mul(api.Mul(relocate, padding), api.Mul(matchedSoFar[i], api.Sub(1, bitsDiffer[i])))
		divergedSum = api.Add(divergedSum, mergeHere)

		existBit := auxBits[i]
		mergedLeft := api.Select(existBit, newLeaf, existingLeaf)
		mergedRight := api.Select(existBit, existingLeaf, newLeaf)
		merged := HashMiddle(api, mergedLeft, mergedRight)

		pushedLeft := api.Select(existBit, frontend.Variable(0), curNew)
		pushedRight := api.Select(existBit, curNew, frontend.Variable(0))
		pushed := HashMiddle(api, pushedLeft, pushedRight)

		curNew = api.Select(mergeHere, merged, api.Select(pushHere, pushed, curNew))

		bit := pathBits[i]
		sib := siblings[i]
		left := api.Select(bit, sib, curNew)
		right := api.Select(bit, curNew, sib)
		combined := HashMiddle(api, left, right)
		curNew = api.Select(active[i], combined, curNew)
	}
	// Whenever relocation is required, the two keys must actually diverge
	// somewhere within the padding zone; otherwise they'd need more path
	// bits than the tree has, which the store itself also refuses.
	api.AssertIsEqual(divergedSum, relocate)

	return curNew
}
