package relayer

import (
	"encoding/json"
	"testing"
)

func TestRequestJSONRoundTrip(t *testing.T) {
	target, err := ParsePubkey("11111111111111111111111111111111")
	if err != nil {
		t.Fatalf("ParsePubkey: %v", err)
	}
	want := Request{
		MsgHash:       Hash32{0x01, 0x02},
		Nu:            Hash32{0xaa, 0xbb},
		Discriminator: 7,
		Data:          HexBytes{0xde, 0xad, 0xbe, 0xef},
		TargetProgram: target,
		StateID:       12345678901234,
		Accounts: []AccountMeta{
			{Pubkey: target, IsSigner: true, IsWritable: false},
		},
	}

	raw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Request
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.MsgHash != want.MsgHash || got.Nu != want.Nu || got.StateID != want.StateID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if string(got.Data) != string(want.Data) {
		t.Fatalf("data mismatch: got %x, want %x", got.Data, want.Data)
	}
	if got.TargetProgram != want.TargetProgram {
		t.Fatalf("target_program mismatch: got %s, want %s", got.TargetProgram, want.TargetProgram)
	}
}

func TestRequestJSONWireShape(t *testing.T) {
	target, _ := ParsePubkey("11111111111111111111111111111111")
	req := Request{
		MsgHash:       Hash32{0x01},
		Nu:            Hash32{0x02},
		Data:          HexBytes{0xff},
		TargetProgram: target,
		StateID:       7,
		Accounts:      []AccountMeta{},
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("Unmarshal generic: %v", err)
	}
	if _, ok := generic["msg_hash"].(string); !ok {
		t.Fatalf("msg_hash is not a JSON string: %v", generic["msg_hash"])
	}
	if _, ok := generic["state_id"].(string); !ok {
		t.Fatalf("state_id is not a JSON string: %v", generic["state_id"])
	}
	if _, ok := generic["data"].(string); !ok {
		t.Fatalf("data is not a JSON string: %v", generic["data"])
	}
}
