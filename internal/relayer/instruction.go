package relayer

import (
	"encoding/binary"

	"github.com/kysee/zk-anon-vote/internal/prover"
)

// SystemProgram is the conventional all-zero system-program account every
// chain instruction's fixed account list ends with before caller accounts
// (spec §6 "Account list prefix").
var SystemProgram = Pubkey{}

// BuildInstructionData encodes the relay instruction's data payload (spec
// §6 "Chain-side instruction data layout"):
//
//	state_id:u64_le | proof{a:32,b:64,c:32} | root_state_after:32 |
//	msg_hash:32 | discriminator:u8 | nu_hash:32 | data: length-prefixed bytes
func BuildInstructionData(stateID uint64, proof prover.CompressedProof, rootStateAfter, msgHash [32]byte, discriminator uint8, nuHash [32]byte, data []byte) []byte {
	out := make([]byte, 0, 8+32+64+32+32+32+1+32+4+len(data))

	var stateIDLE [8]byte
	binary.LittleEndian.PutUint64(stateIDLE[:], stateID)
	out = append(out, stateIDLE[:]...)

	out = append(out, proof.A[:]...)
	out = append(out, proof.B[:]...)
	out = append(out, proof.C[:]...)
	out = append(out, rootStateAfter[:]...)
	out = append(out, msgHash[:]...)
	out = append(out, discriminator)
	out = append(out, nuHash[:]...)

	var dataLen [4]byte
	binary.LittleEndian.PutUint32(dataLen[:], uint32(len(data)))
	out = append(out, dataLen[:]...)
	out = append(out, data...)

	return out
}

// BuildAccounts assembles the fixed account prefix (spec §6 "Account list
// prefix") followed by the caller-supplied accounts verbatim.
func BuildAccounts(relayer, relayerProgramID, targetProgram Pubkey, stateID uint64, callerAccounts []AccountMeta) []AccountMeta {
	fixed := []AccountMeta{
		{Pubkey: relayer, IsSigner: true, IsWritable: false},
		{Pubkey: RelayerConfig(relayerProgramID), IsSigner: false, IsWritable: false},
		{Pubkey: FindRelayerState(relayerProgramID, targetProgram, stateID), IsSigner: false, IsWritable: true},
		{Pubkey: targetProgram, IsSigner: false, IsWritable: false},
		{Pubkey: SystemProgram, IsSigner: false, IsWritable: false},
	}
	return append(fixed, callerAccounts...)
}
