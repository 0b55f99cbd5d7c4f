// Package indexer replays decoded on-chain events into a relational
// store and drives the census/description ingestion workers, with
// recovery of interrupted work on restart (spec §1, §4.G, §4.H).
package indexer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// hexMarshal/hexUnmarshal give the fixed-width byte types below the same
// lowercase-hex, no-0x-prefix wire convention the rest of this stack uses
// for 32-byte values (spec §6 hex(32)).
func hexMarshal(b []byte) ([]byte, error) { return json.Marshal(hex.EncodeToString(b)) }

func hexUnmarshal(data []byte, out []byte, label string) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("indexer: %s: %w", label, err)
	}
	if len(decoded) != len(out) {
		return fmt.Errorf("indexer: %s must be %d bytes, got %d", label, len(out), len(decoded))
	}
	copy(out, decoded)
	return nil
}

// Hash32 marshals as a hex string rather than encoding/json's default
// byte-array-as-numbers rendering.
type Hash32 [32]byte

func (h Hash32) MarshalJSON() ([]byte, error)  { return hexMarshal(h[:]) }
func (h *Hash32) UnmarshalJSON(b []byte) error { return hexUnmarshal(b, h[:], "Hash32") }

// Ciphertext marshals as a hex string, same convention as Hash32.
type Ciphertext [224]byte

func (c Ciphertext) MarshalJSON() ([]byte, error)  { return hexMarshal(c[:]) }
func (c *Ciphertext) UnmarshalJSON(b []byte) error { return hexUnmarshal(b, c[:], "Ciphertext") }

// Poll is the queryable projection of a poll record (spec §3 "Poll
// record"). CensusValid is a tri-state: nil means unknown, *true
// ingested, *false rejected.
type Poll struct {
	PollID         int64  `json:"poll_id"`
	NChoices       uint8  `json:"n_choices"`
	CoordX         Hash32 `json:"coord_x"`
	CoordY         Hash32 `json:"coord_y"`
	CensusRoot     Hash32 `json:"census_root"`
	VoteStart      int64  `json:"vote_start"`
	VoteEnd        int64  `json:"vote_end"`
	Fees           uint64 `json:"fees"`
	FeeDestination Hash32 `json:"fee_destination"`
	DescriptionURL string `json:"description_url"`
	CensusURL      string `json:"census_url"`
	ExpectedVoters uint64 `json:"expected_voters"`

	Title                    *string  `json:"title,omitempty"`
	Choices                  []string `json:"choices,omitempty"`
	CensusValid              *bool    `json:"census_valid,omitempty"`
	CensusInvalidReason      *string  `json:"census_invalid_reason,omitempty"`
	DescriptionInvalidReason *string  `json:"description_invalid_reason,omitempty"`
	TallyFinished            bool     `json:"tally_finished"`
}

// Vote is one row of the votes table (spec §3 "Vote record").
type Vote struct {
	ID         int64      `json:"id"`
	PollID     int64      `json:"poll_id"`
	EphX       Hash32     `json:"eph_x"`
	EphY       Hash32     `json:"eph_y"`
	Nonce      uint64     `json:"nonce"`
	Ciphertext Ciphertext `json:"ciphertext"`
}

// VotesPage is the response shape for GET /polls/{poll_id}/votes.
type VotesPage struct {
	Items     []Vote `json:"items"`
	NextAfter *int64 `json:"next_after,omitempty"`
}
