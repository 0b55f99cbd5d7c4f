package prover

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/groth16"
	groth16bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/kysee/zk-anon-vote/internal/circuit"
)

// CompressedProof is the (32,64,32)-byte wire format the chain instruction
// carries (spec §6).
type CompressedProof struct {
	A [32]byte
	B [64]byte
	C [32]byte
}

// Prover compiles RelayCircuit and runs its Groth16 setup once, caching the
// constraint system and proving key in memory for the rest of the
// process's life — the same load-once-and-cache shape the relayer circuit
// loader uses for its proving key.
type Prover struct {
	dir string

	mu  sync.Mutex
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
	vk  groth16.VerifyingKey
}

// New returns a Prover that persists its compiled artifacts under dir
// (ccs/pk/vk files), loading them back on the next process start instead
// of recompiling and re-running Setup.
func New(dir string) *Prover {
	return &Prover{dir: dir}
}

func (p *Prover) ccsPath() string { return filepath.Join(p.dir, "relay.ccs") }
func (p *Prover) pkPath() string  { return filepath.Join(p.dir, "relay.pk") }
func (p *Prover) vkPath() string  { return filepath.Join(p.dir, "relay.vk") }

// Setup loads the compiled circuit and keys from disk, compiling and
// running a fresh Groth16 setup (and persisting the result) the first time
// it's invoked against an empty dir.
func (p *Prover) Setup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ccs != nil {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("prover: create circuit dir: %w", err)
	}

	if f, err := os.Open(p.ccsPath()); err == nil {
		defer f.Close()
		ccs := groth16.NewCS(ecc.BN254)
		if _, err := ccs.ReadFrom(f); err != nil {
			return fmt.Errorf("prover: read cached ccs: %w", err)
		}
		p.ccs = ccs
	} else {
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit.RelayCircuit{})
		if err != nil {
			return fmt.Errorf("prover: compile circuit: %w", err)
		}
		p.ccs = ccs
		if f, err := os.Create(p.ccsPath()); err == nil {
			_, _ = ccs.WriteTo(f)
			_ = f.Close()
		}
	}

	if pkFile, err := os.Open(p.pkPath()); err == nil {
		vkFile, err := os.Open(p.vkPath())
		if err != nil {
			pkFile.Close()
			return fmt.Errorf("prover: open cached vk: %w", err)
		}
		pk := groth16.NewProvingKey(ecc.BN254)
		vk := groth16.NewVerifyingKey(ecc.BN254)
		if _, err := pk.ReadFrom(pkFile); err != nil {
			return fmt.Errorf("prover: read cached pk: %w", err)
		}
		if _, err := vk.ReadFrom(vkFile); err != nil {
			return fmt.Errorf("prover: read cached vk: %w", err)
		}
		pkFile.Close()
		vkFile.Close()
		p.pk, p.vk = pk, vk
		return nil
	}

	pk, vk, err := groth16.Setup(p.ccs)
	if err != nil {
		return fmt.Errorf("prover: groth16 setup: %w", err)
	}
	p.pk, p.vk = pk, vk

	if f, err := os.Create(p.pkPath()); err == nil {
		_, _ = pk.WriteTo(f)
		_ = f.Close()
	}
	if f, err := os.Create(p.vkPath()); err == nil {
		_, _ = vk.WriteTo(f)
		_ = f.Close()
	}
	return nil
}

// Prove builds the witness for in, proves it against the cached circuit,
// and returns the compressed proof alongside the public inputs the chain
// instruction and on-chain verifier both need (spec §4.D step 6).
func (p *Prover) Prove(in RelayWitnessInput) (CompressedProof, PublicInputs, error) {
	p.mu.Lock()
	ccs, pk := p.ccs, p.pk
	p.mu.Unlock()
	if ccs == nil {
		return CompressedProof{}, PublicInputs{}, fmt.Errorf("prover: Setup not called")
	}

	assignment, pub := BuildWitness(in)
	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return CompressedProof{}, PublicInputs{}, fmt.Errorf("prover: build witness: %w", err)
	}

	proof, err := groth16.Prove(ccs, pk, fullWitness)
	if err != nil {
		return CompressedProof{}, PublicInputs{}, fmt.Errorf("prover: groth16 prove: %w", err)
	}

	compressed, err := CompressProof(proof)
	if err != nil {
		return CompressedProof{}, PublicInputs{}, err
	}
	return compressed, pub, nil
}

// CompressProof reduces a Groth16 BN254 proof's three group elements to
// (32,64,32) compressed bytes, negating the A point first — the same
// convention the relayer's compress_proof applies before an on-chain
// verifier decompresses and checks the pairing (spec §4.D step 6).
func CompressProof(proof groth16.Proof) (CompressedProof, error) {
	p, ok := proof.(*groth16bn254.Proof)
	if !ok {
		return CompressedProof{}, fmt.Errorf("prover: unexpected proof type %T", proof)
	}

	var negA bn254.G1Affine
	negA.Neg(&p.Ar)

	aBytes := negA.Bytes()
	bBytes := p.Bs.Bytes()
	cBytes := p.Krs.Bytes()

	var out CompressedProof
	copy(out.A[:], aBytes[:])
	copy(out.B[:], bBytes[:])
	copy(out.C[:], cBytes[:])
	return out, nil
}
