package relayer

import "crypto/sha256"

// deriveAddress is a program-derived-address stand-in: Solana's real
// find_program_address walks bump seeds 255..0 rejecting any hash that
// happens to land on the ed25519 curve, which needs a curve-membership
// check no library in this stack provides. This keeps the same seed
// layout and appends no bump seed, so the derivation stays deterministic; it is
// not cryptographically equivalent to the on-chain derivation (DESIGN.md
// open question).
func deriveAddress(programID Pubkey, seeds ...[]byte) Pubkey {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write([]byte("ProgramDerivedAddress"))
	var out Pubkey
	copy(out[:], h.Sum(nil))
	return out
}

// RelayerConfig is the well-known relayer-config account every relay
// instruction references (spec §4.D step 7).
func RelayerConfig(relayerProgramID Pubkey) Pubkey {
	return deriveAddress(relayerProgramID, []byte("RELAYER_CONFIG"))
}

// FindRelayerState derives the per-(program,state_id) relayer-state PDA.
func FindRelayerState(relayerProgramID, targetProgram Pubkey, stateID uint64) Pubkey {
	var stateIDLE [8]byte
	for i := 0; i < 8; i++ {
		stateIDLE[i] = byte(stateID >> (8 * i))
	}
	return deriveAddress(relayerProgramID, []byte("RELAYER_STATE"), targetProgram[:], stateIDLE[:])
}
