package chainlog

import (
	"encoding/base64"
	"testing"

	"github.com/rs/zerolog"
)

func newTestDecoder(programID string) *Decoder {
	d := NewDecoder(programID, zerolog.Nop())
	d.RegisterVariant("create_poll", [8]byte{1}, func(payload []byte) (Event, error) {
		return CreatePollEvent{PollID: uint64(payload[0])}, nil
	})
	return d
}

func dataLine(discriminator byte, rest ...byte) string {
	payload := append([]byte{discriminator, 0, 0, 0, 0, 0, 0, 0}, rest...)
	return "Program data: " + base64.StdEncoding.EncodeToString(payload)
}

func TestDecoder_OnlyEmitsInsideTargetFrame(t *testing.T) {
	target := "TargetProgram111111111111111111111111111"
	other := "OtherProgram22222222222222222222222222222"

	lines := []string{
		"Program " + other + " invoke [1]",
		dataLine(1, 99), // fake, wrong frame
		"Program " + other + " success",
		"Program " + target + " invoke [1]",
		dataLine(1, 7), // real
		"Program " + target + " success",
	}

	d := newTestDecoder(target)
	events := d.Decode(lines)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d: %+v", len(events), events)
	}
	poll, ok := events[0].(CreatePollEvent)
	if !ok {
		t.Fatalf("expected CreatePollEvent, got %T", events[0])
	}
	if poll.PollID != 7 {
		t.Fatalf("expected PollID 7, got %d", poll.PollID)
	}
}

func TestDecoder_DeferredPopKeepsPrecedingLineInInnerFrame(t *testing.T) {
	target := "TargetProgram111111111111111111111111111"
	outer := "OuterProgram2222222222222222222222222222"

	// the data line immediately precedes the target frame's success line
	// and was emitted while target was still on top of the stack.
	lines := []string{
		"Program " + outer + " invoke [1]",
		"Program " + target + " invoke [2]",
		dataLine(1, 5),
		"Program " + target + " success",
		"Program " + outer + " success",
	}
	d := newTestDecoder(target)
	events := d.Decode(lines)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(events))
	}
}

func TestDecoder_PopOnEmptyStackIsNonFatal(t *testing.T) {
	target := "TargetProgram111111111111111111111111111"
	lines := []string{
		"Program " + target + " success", // pop with nothing pushed yet
		"Program " + target + " invoke [1]",
		dataLine(1, 3),
		"Program " + target + " success",
	}
	d := newTestDecoder(target)
	events := d.Decode(lines)
	if len(events) != 1 {
		t.Fatalf("expected 1 event despite malformed leading pop, got %d", len(events))
	}
}
