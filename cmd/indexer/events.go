package main

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/kysee/zk-anon-vote/internal/chainlog"
)

const defaultPollInterval = 2 * time.Second

// Event payload discriminators and layouts, binary companions to the
// poll/vote record fields the data model describes (spec §3). The
// on-chain program's exact wire format is an external collaborator
// (spec §1 "Out of scope"); this fixes one concrete big-endian layout
// (fixed-width fields, plus two u16-length-prefixed URL strings in
// create_poll) so the decoder has something to dispatch against.
var (
	discCreatePoll  = [8]byte{'c', 'r', 'e', 'a', 't', 'e', 'p', 'l'}
	discVote        = [8]byte{'v', 'o', 't', 'e', 0, 0, 0, 0}
	discFinishTally = [8]byte{'f', 'i', 'n', 't', 'a', 'l', 'l', 'y'}
)

func registerEventVariants(d *chainlog.Decoder) {
	d.RegisterVariant("create_poll", discCreatePoll, decodeCreatePoll)
	d.RegisterVariant("vote", discVote, decodeVote)
	d.RegisterVariant("finish_tally", discFinishTally, decodeFinishTally)
}

func decodeCreatePoll(p []byte) (chainlog.Event, error) {
	const fixed = 8 + 1 + 32 + 32 + 32 + 8 + 8 + 8 + 32 + 2
	if len(p) < fixed {
		return nil, fmt.Errorf("create_poll payload too short: %d bytes", len(p))
	}
	var ev chainlog.CreatePollEvent
	off := 0
	ev.PollID = binary.BigEndian.Uint64(p[off:])
	off += 8
	ev.NChoices = p[off]
	off++
	copy(ev.CoordX[:], p[off:off+32])
	off += 32
	copy(ev.CoordY[:], p[off:off+32])
	off += 32
	copy(ev.CensusRoot[:], p[off:off+32])
	off += 32
	ev.VoteStart = int64(binary.BigEndian.Uint64(p[off:]))
	off += 8
	ev.VoteEnd = int64(binary.BigEndian.Uint64(p[off:]))
	off += 8
	ev.Fees = binary.BigEndian.Uint64(p[off:])
	off += 8
	copy(ev.FeeDestination[:], p[off:off+32])
	off += 32

	descLen := int(binary.BigEndian.Uint16(p[off:]))
	off += 2
	if len(p) < off+descLen+2 {
		return nil, fmt.Errorf("create_poll payload truncated at description_url")
	}
	ev.DescriptionURL = string(p[off : off+descLen])
	off += descLen

	censusLen := int(binary.BigEndian.Uint16(p[off:]))
	off += 2
	if len(p) < off+censusLen+8 {
		return nil, fmt.Errorf("create_poll payload truncated at census_url")
	}
	ev.CensusURL = string(p[off : off+censusLen])
	off += censusLen

	ev.ExpectedVoters = binary.BigEndian.Uint64(p[off:])
	return ev, nil
}

func decodeVote(p []byte) (chainlog.Event, error) {
	const size = 8 + 32 + 32 + 8 + 224
	if len(p) < size {
		return nil, fmt.Errorf("vote payload too short: %d bytes", len(p))
	}
	var ev chainlog.VoteEvent
	off := 0
	ev.PollID = binary.BigEndian.Uint64(p[off:])
	off += 8
	copy(ev.EphX[:], p[off:off+32])
	off += 32
	copy(ev.EphY[:], p[off:off+32])
	off += 32
	ev.Nonce = binary.BigEndian.Uint64(p[off:])
	off += 8
	copy(ev.Ciphertext[:], p[off:off+224])
	return ev, nil
}

func decodeFinishTally(p []byte) (chainlog.Event, error) {
	if len(p) < 8 {
		return nil, fmt.Errorf("finish_tally payload too short: %d bytes", len(p))
	}
	return chainlog.FinishTallyEvent{PollID: binary.BigEndian.Uint64(p)}, nil
}
