package chainlog

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

var (
	invokeRe  = regexp.MustCompile(`^Program (\S+) invoke \[(\d+)\]$`)
	successRe = regexp.MustCompile(`^Program (\S+) success$`)
	dataRe    = regexp.MustCompile(`^Program data: (.+)$`)
)

// CreatePollEvent mirrors the poll record's static fields (spec §3 "Poll
// record").
type CreatePollEvent struct {
	PollID          uint64
	NChoices        uint8
	CoordX, CoordY  [32]byte
	CensusRoot      [32]byte
	VoteStart       int64
	VoteEnd         int64
	Fees            uint64
	FeeDestination  [32]byte
	DescriptionURL  string
	CensusURL       string
	ExpectedVoters  uint64
}

// VoteEvent mirrors one vote record (spec §3 "Vote record").
type VoteEvent struct {
	PollID     uint64
	EphX, EphY [32]byte
	Nonce      uint64
	Ciphertext [224]byte
}

// FinishTallyEvent marks a poll finished; the DB writer deletes its vote
// rows as part of applying it (spec §4.G).
type FinishTallyEvent struct {
	PollID uint64
}

// Event is any decoded on-chain event this platform emits.
type Event interface{ isEvent() }

func (CreatePollEvent) isEvent()  {}
func (VoteEvent) isEvent()        {}
func (FinishTallyEvent) isEvent() {}

// variant pairs a fixed 8-byte discriminator with the decode function
// for its payload (the bytes after the discriminator).
type variant struct {
	name          string
	discriminator [8]byte
	decode        func(payload []byte) (Event, error)
}

// Decoder parses program-scoped "Program data:" log lines into typed
// events, tracking the invoke/success call stack so a line is only
// attributed to the target program's own frame (spec §4.F).
type Decoder struct {
	programID string
	variants  []variant
	log       zerolog.Logger
}

func NewDecoder(programID string, log zerolog.Logger) *Decoder {
	return &Decoder{programID: programID, log: log}
}

// RegisterVariant adds an event variant, tried in registration order
// when a data line can't be matched by any earlier variant.
func (d *Decoder) RegisterVariant(name string, discriminator [8]byte, decode func(payload []byte) (Event, error)) {
	d.variants = append(d.variants, variant{name: name, discriminator: discriminator, decode: decode})
}

// Decode walks a transaction's log lines and returns every event emitted
// inside the target program's own invoke frame. Malformed stacks and
// undecodable data lines are logged and skipped, not fatal (spec §4.F
// "Rejection").
func (d *Decoder) Decode(lines []string) []Event {
	var stack []string
	pendingPop := false
	var events []Event

	for _, line := range lines {
		if pendingPop {
			if len(stack) == 0 {
				d.log.Warn().Str("line", line).Msg("chainlog: pop on empty program stack, skipping record")
			} else {
				stack = stack[:len(stack)-1]
			}
			pendingPop = false
		}

		switch {
		case invokeRe.MatchString(line):
			m := invokeRe.FindStringSubmatch(line)
			stack = append(stack, m[1])

		case successRe.MatchString(line) || isBarePopLine(line):
			pendingPop = true

		case dataRe.MatchString(line):
			if len(stack) == 0 || stack[len(stack)-1] != d.programID {
				continue
			}
			m := dataRe.FindStringSubmatch(line)
			payload, err := base64.StdEncoding.DecodeString(m[1])
			if err != nil {
				d.log.Warn().Err(err).Msg("chainlog: bad base64 in program data line")
				continue
			}
			ev, err := d.dispatch(payload)
			if err != nil {
				d.log.Warn().Err(err).Msg("chainlog: failed to decode event")
				continue
			}
			if ev != nil {
				events = append(events, ev)
			}
		}
	}
	return events
}

// dispatch tries each registered variant's discriminator in order,
// first match wins (spec §4.F "Discrimination across variants").
func (d *Decoder) dispatch(payload []byte) (Event, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("chainlog: program data payload too short: %d bytes", len(payload))
	}
	var disc [8]byte
	copy(disc[:], payload[:8])
	for _, v := range d.variants {
		if disc == v.discriminator {
			return v.decode(payload[8:])
		}
	}
	d.log.Warn().Hex("discriminator", disc[:]).Msg("chainlog: unknown event discriminator, skipping")
	return nil, nil
}

// isBarePopLine matches a "Program <pubkey> failed" or "Program <pubkey>
// failed: ..." line, the failure form of a frame pop, whose pubkey token
// carries no ':' or spaces, per spec §4.F's parenthetical.
func isBarePopLine(line string) bool {
	if !strings.HasPrefix(line, "Program ") {
		return false
	}
	rest := strings.TrimPrefix(line, "Program ")
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return false
	}
	pubkey := fields[0]
	return !strings.ContainsAny(pubkey, ":") && strings.HasPrefix(fields[1], "failed")
}
