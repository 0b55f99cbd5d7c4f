package circuit

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	gnark_test "github.com/consensys/gnark/test"
	"github.com/stretchr/testify/require"
)

// TestRelayCircuit_FirstInsertIsSolved exercises the simplest admission: both
// trees empty, first message under a fresh quota index.
func TestRelayCircuit_FirstInsertIsSolved(t *testing.T) {
	nu := big.NewInt(12345)
	msgHash := big.NewInt(987654321)
	msgLimit := big.NewInt(3)

	rootStateBefore := NativePoseidonMiddle(big.NewInt(0), big.NewInt(0))
	rootQuotaAfter := NativePoseidonLeaf(nu, big.NewInt(1))
	rootUniqAfter := NativePoseidonLeaf(msgHash, big.NewInt(1))
	rootStateAfter := NativePoseidonMiddle(rootQuotaAfter, rootUniqAfter)
	nuHash := NativePoseidonMiddle(nu, big.NewInt(0))

	w := &RelayCircuit{
		RootStateBefore: rootStateBefore,
		RootStateAfter:  rootStateAfter,
		NuHash:          nuHash,
		MsgHash:         msgHash,
		MsgLimit:        msgLimit,

		RootQuotaBefore: big.NewInt(0),
		RootUniqBefore:  big.NewInt(0),
		Nu:              nu,
		PrevCount:       big.NewInt(0),

		NoAuxQuota:    1,
		AuxKeyQuota:   big.NewInt(0),
		AuxValueQuota: big.NewInt(0),

		NoAuxUniq:    1,
		AuxKeyUniq:   big.NewInt(0),
		AuxValueUniq: big.NewInt(0),
	}
	for i := 0; i < TreeDepth; i++ {
		w.SiblingsQuota[i] = big.NewInt(0)
		w.ActiveQuota[i] = 0
		w.SiblingsUniq[i] = big.NewInt(0)
		w.ActiveUniq[i] = 0
	}

	err := gnark_test.IsSolved(&RelayCircuit{}, w, ecc.BN254.ScalarField())
	require.NoError(t, err)
}

// TestRelayCircuit_RejectsLimitExceeded checks a PrevCount at the limit is
// refused regardless of proof shape (spec §4.D step 4).
func TestRelayCircuit_RejectsLimitExceeded(t *testing.T) {
	nu := big.NewInt(12345)
	msgHash := big.NewInt(55)
	msgLimit := big.NewInt(3)

	quotaLeafBefore := NativePoseidonLeaf(nu, msgLimit)
	rootStateBefore := NativePoseidonMiddle(quotaLeafBefore, big.NewInt(0))
	quotaLeafAfter := NativePoseidonLeaf(nu, new(big.Int).Add(msgLimit, big.NewInt(1)))
	rootUniqAfter := NativePoseidonLeaf(msgHash, big.NewInt(1))
	rootStateAfter := NativePoseidonMiddle(quotaLeafAfter, rootUniqAfter)
	nuHash := NativePoseidonMiddle(nu, big.NewInt(0))

	w := &RelayCircuit{
		RootStateBefore: rootStateBefore,
		RootStateAfter:  rootStateAfter,
		NuHash:          nuHash,
		MsgHash:         msgHash,
		MsgLimit:        msgLimit,

		RootQuotaBefore: quotaLeafBefore,
		RootUniqBefore:  big.NewInt(0),
		Nu:              nu,
		PrevCount:       msgLimit,

		NoAuxQuota:    0,
		AuxKeyQuota:   nu,
		AuxValueQuota: msgLimit,

		NoAuxUniq:    1,
		AuxKeyUniq:   big.NewInt(0),
		AuxValueUniq: big.NewInt(0),
	}
	for i := 0; i < TreeDepth; i++ {
		w.SiblingsQuota[i] = big.NewInt(0)
		w.ActiveQuota[i] = 0
		w.SiblingsUniq[i] = big.NewInt(0)
		w.ActiveUniq[i] = 0
	}

	err := gnark_test.IsSolved(&RelayCircuit{}, w, ecc.BN254.ScalarField())
	require.Error(t, err)
}

// TestRelayCircuit_SecondDistinctQuotaKeyRelocatesCollidingLeaf reproduces
// the confirm scenario from the collision bug report: a quota leaf already
// occupies the terminal slot under a different index (proof has no
// recorded siblings), so admitting a fresh index there must relocate the
// existing leaf into a Middle rather than silently overwrite it.
func TestRelayCircuit_SecondDistinctQuotaKeyRelocatesCollidingLeaf(t *testing.T) {
	nu := big.NewInt(3)               // quota key ...011: bit0 = 1
	existingQuotaKey := big.NewInt(2) // ...010: bit0 = 0, diverges at level 0
	existingQuotaValue := big.NewInt(5)
	msgHash := big.NewInt(77)
	msgLimit := big.NewInt(10)

	rootQuotaBefore := NativePoseidonLeaf(existingQuotaKey, existingQuotaValue)
	rootStateBefore := NativePoseidonMiddle(rootQuotaBefore, big.NewInt(0))

	newQuotaLeaf := NativePoseidonLeaf(nu, big.NewInt(1))
	existingQuotaLeaf := NativePoseidonLeaf(existingQuotaKey, existingQuotaValue)
	rootQuotaAfter := NativePoseidonMiddle(existingQuotaLeaf, newQuotaLeaf)
	rootUniqAfter := NativePoseidonLeaf(msgHash, big.NewInt(1))
	rootStateAfter := NativePoseidonMiddle(rootQuotaAfter, rootUniqAfter)
	nuHash := NativePoseidonMiddle(nu, big.NewInt(0))

	w := &RelayCircuit{
		RootStateBefore: rootStateBefore,
		RootStateAfter:  rootStateAfter,
		NuHash:          nuHash,
		MsgHash:         msgHash,
		MsgLimit:        msgLimit,

		RootQuotaBefore: rootQuotaBefore,
		RootUniqBefore:  big.NewInt(0),
		Nu:              nu,
		PrevCount:       big.NewInt(0),

		NoAuxQuota:    0,
		AuxKeyQuota:   existingQuotaKey,
		AuxValueQuota: existingQuotaValue,

		NoAuxUniq:    1,
		AuxKeyUniq:   big.NewInt(0),
		AuxValueUniq: big.NewInt(0),
	}
	for i := 0; i < TreeDepth; i++ {
		w.SiblingsQuota[i] = big.NewInt(0)
		w.ActiveQuota[i] = 0
		w.SiblingsUniq[i] = big.NewInt(0)
		w.ActiveUniq[i] = 0
	}

	err := gnark_test.IsSolved(&RelayCircuit{}, w, ecc.BN254.ScalarField())
	require.NoError(t, err)
}
