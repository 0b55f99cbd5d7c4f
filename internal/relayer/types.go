// Package relayer implements the per-key-serialized relay service (spec
// §4.D): it loads a request's quota and uniqueness tree proofs, proves the
// root transition, submits a chain instruction, and commits the tree
// updates only once the chain confirms.
package relayer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

// Pubkey is a 32-byte chain account address, base58-encoded at the edges
// the way Solana-family addresses are everywhere else in this stack.
type Pubkey [32]byte

func (p Pubkey) String() string { return base58.Encode(p[:]) }

func ParsePubkey(s string) (Pubkey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Pubkey{}, fmt.Errorf("relayer: invalid pubkey %q: %w", s, err)
	}
	if len(b) != 32 {
		return Pubkey{}, fmt.Errorf("relayer: pubkey %q decodes to %d bytes, want 32", s, len(b))
	}
	var out Pubkey
	copy(out[:], b)
	return out, nil
}

func (p Pubkey) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *Pubkey) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParsePubkey(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Hash32 is a 32-byte field element, hex-encoded at the edges (spec §6
// "hex(32)"): an optional "0x" prefix is accepted on the way in, dropped
// on the way out, mirroring this stack's other hex-at-the-boundary types.
type Hash32 [32]byte

func (h Hash32) String() string { return hex.EncodeToString(h[:]) }

func ParseHash32(s string) (Hash32, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Hash32{}, fmt.Errorf("relayer: invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return Hash32{}, fmt.Errorf("relayer: hash %q decodes to %d bytes, want 32", s, len(b))
	}
	var out Hash32
	copy(out[:], b)
	return out, nil
}

func (h Hash32) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }

func (h *Hash32) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseHash32(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HexBytes is a variable-length byte string, hex-encoded at the edges
// (spec §6 "hex(bytes)") rather than this package's base64 default.
type HexBytes []byte

func (b HexBytes) MarshalJSON() ([]byte, error) { return json.Marshal(hex.EncodeToString(b)) }

func (b *HexBytes) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return fmt.Errorf("relayer: invalid hex bytes %q: %w", s, err)
	}
	*b = decoded
	return nil
}

// DecU64 is a u64 rendered as a decimal string (spec §6 "dec(u64)"),
// sidestepping JSON numbers' float64 precision loss above 2^53.
type DecU64 uint64

func (d DecU64) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(d), 10))
}

func (d *DecU64) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("relayer: invalid state_id %q: %w", s, err)
		}
		*d = DecU64(n)
		return nil
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("relayer: invalid state_id %q: %w", string(raw), err)
	}
	*d = DecU64(n)
	return nil
}

// AccountMeta mirrors the caller-supplied account list entries in a relay
// request (spec §6 "Relayer HTTP").
type AccountMeta struct {
	Pubkey     Pubkey `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// Request is the decoded body of POST /relay (spec §6).
type Request struct {
	MsgHash       Hash32        `json:"msg_hash"`
	Nu            Hash32        `json:"nu"`
	Discriminator uint8         `json:"discriminator"`
	Data          HexBytes      `json:"data"`
	TargetProgram Pubkey        `json:"target_program"`
	StateID       DecU64        `json:"state_id"`
	CULimit       *uint32       `json:"cu_limit,omitempty"`
	Accounts      []AccountMeta `json:"accounts"`
}

// Response is the success body of POST /relay (spec §6).
type Response struct {
	Signature string `json:"signature"`
}

// Instruction is the chain instruction relay() builds in step 7: fixed
// accounts followed by the caller-supplied ones verbatim, and a data
// payload in the layout spec §6 "Chain-side instruction data layout"
// describes.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}
