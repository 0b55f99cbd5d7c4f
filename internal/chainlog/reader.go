package chainlog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const defaultPageLimit = 1000

// Reader walks a program's signature history backward to a cursor and
// emits confirmed/finalized transactions in strict (slot, intra-block)
// order (spec §4.E). It is a single task; downstream subscribers must
// drain promptly, since each subscriber queue holds at most 4096
// entries and a send to a full queue is dropped for that subscriber.
type Reader struct {
	src      RPCSource
	log      zerolog.Logger
	interval time.Duration
	pageSize int

	confirmed *Broadcaster[*Transaction]
	finalized *Broadcaster[*Transaction]

	// confirmedCache holds transactions first seen at "confirmed",
	// awaiting a later "finalized" sighting of the same signature. It
	// lives entirely inside this task's goroutine and needs no lock
	// (spec §9 "Cross-task shared state").
	confirmedCache map[string]*Transaction
}

func NewReader(src RPCSource, log zerolog.Logger, pollInterval time.Duration) *Reader {
	return &Reader{
		src:            src,
		log:            log,
		interval:       pollInterval,
		pageSize:       defaultPageLimit,
		confirmed:      NewBroadcaster[*Transaction](),
		finalized:      NewBroadcaster[*Transaction](),
		confirmedCache: make(map[string]*Transaction),
	}
}

func (r *Reader) Confirmed() <-chan *Transaction { return r.confirmed.Subscribe() }
func (r *Reader) Finalized() <-chan *Transaction { return r.finalized.Subscribe() }

// Run polls until ctx is cancelled, starting the walk at the given
// signature cursor (empty string means "from genesis" of whatever the
// source considers its earliest retained signature).
func (r *Reader) Run(ctx context.Context, cursor string) error {
	until := cursor
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sigs, nextUntil, err := r.walkBack(until)
		if err != nil {
			return fmt.Errorf("chainlog: walk back from %q: %w", until, err)
		}
		if nextUntil != "" {
			until = nextUntil
		}

		fetched := r.processPage(sigs)
		if fetched == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.interval):
			}
		}
	}
}

// walkBack implements step 1-4: page backward from head stopping before
// until, tracking the newest finalized signature seen as the next
// iteration's cutoff, then returns entries in strict oldest-first order.
func (r *Reader) walkBack(until string) (oldestFirst []SignatureInfo, nextUntil string, err error) {
	var pages [][]SignatureInfo
	before := ""
	for {
		page, err := r.src.SignaturesBefore(before, r.pageSize)
		if err != nil {
			return nil, "", err
		}
		if len(page) == 0 {
			break
		}

		cut := len(page)
		stop := false
		for i, s := range page {
			if s.Signature == until {
				cut = i
				stop = true
				break
			}
			if s.Status == StatusFinalized && nextUntil == "" {
				nextUntil = s.Signature
			}
		}
		pages = append(pages, page[:cut])
		r.log.Debug().Int("pages", len(pages)).Str("before", before).Msg("chainlog: fetched signature page")
		if stop || len(page) < r.pageSize {
			break
		}
		before = page[len(page)-1].Signature
	}

	for i := len(pages) - 1; i >= 0; i-- {
		page := pages[i]
		for j := len(page) - 1; j >= 0; j-- {
			oldestFirst = append(oldestFirst, page[j])
		}
	}
	return oldestFirst, nextUntil, nil
}

// processPage implements steps 5-7: classify each signature against the
// confirmed-tx cache, fetch what's missing (grouped by slot), and emit
// on the appropriate streams. Returns the number of transactions fetched
// so Run knows whether to sleep.
func (r *Reader) processPage(sigs []SignatureInfo) int {
	type pending struct {
		sig    SignatureInfo
		promote bool // finalized and already cached: emit without fetching
	}

	toFetch := make(map[uint64][]SignatureInfo)
	var order []pending

	for _, s := range sigs {
		switch s.Status {
		case StatusProcessed:
			r.log.Warn().Str("signature", s.Signature).Msg("unexpected processed-status signature")
			continue
		case StatusConfirmed:
			if _, cached := r.confirmedCache[s.Signature]; cached {
				continue
			}
			toFetch[s.Slot] = append(toFetch[s.Slot], s)
			order = append(order, pending{sig: s})
		case StatusFinalized:
			if tx, cached := r.confirmedCache[s.Signature]; cached {
				tx.Status = StatusFinalized
				delete(r.confirmedCache, s.Signature)
				if n := r.finalized.Send(tx); n > 0 {
					r.log.Warn().Int("dropped", n).Str("signature", tx.Signature).Msg("finalized subscriber queue full")
				}
				continue
			}
			toFetch[s.Slot] = append(toFetch[s.Slot], s)
			order = append(order, pending{sig: s})
		}
	}

	fetchedBySig := make(map[string]*Transaction)
	fetchedCount := 0
	for slot, group := range toFetch {
		if len(group) == 1 {
			tx, err := r.src.GetTransaction(group[0].Signature)
			if err != nil {
				r.log.Warn().Err(err).Str("signature", group[0].Signature).Msg("fetch transaction failed")
				continue
			}
			tx.Status = group[0].Status
			fetchedBySig[group[0].Signature] = tx
			fetchedCount++
			continue
		}

		txs, err := r.src.GetBlock(slot)
		if err != nil {
			r.log.Warn().Err(err).Uint64("slot", slot).Msg("fetch block failed")
			continue
		}
		want := make(map[string]Status, len(group))
		for _, g := range group {
			want[g.Signature] = g.Status
		}
		consumed := 0
		for _, tx := range txs {
			status, ok := want[tx.Signature]
			if !ok {
				continue
			}
			tx.Status = status
			fetchedBySig[tx.Signature] = tx
			consumed++
			fetchedCount++
			if consumed == len(group) {
				break
			}
		}
	}

	for _, p := range order {
		tx, ok := fetchedBySig[p.sig.Signature]
		if !ok {
			continue
		}
		if n := r.confirmed.Send(tx); n > 0 {
			r.log.Warn().Int("dropped", n).Str("signature", tx.Signature).Msg("confirmed subscriber queue full")
		}
		if tx.Status == StatusFinalized {
			if n := r.finalized.Send(tx); n > 0 {
				r.log.Warn().Int("dropped", n).Str("signature", tx.Signature).Msg("finalized subscriber queue full")
			}
		} else {
			r.confirmedCache[tx.Signature] = tx
		}
	}

	return fetchedCount
}
