package chainlog

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeRPC serves a fixed, newest-first signature list and a matching set
// of transactions, mimicking a single-page chain history.
type fakeRPC struct {
	sigs []SignatureInfo
	txs  map[string]*Transaction
}

func (f *fakeRPC) SignaturesBefore(before string, limit int) ([]SignatureInfo, error) {
	if before != "" {
		return nil, nil
	}
	return f.sigs, nil
}

func (f *fakeRPC) GetTransaction(sig string) (*Transaction, error) {
	tx := *f.txs[sig]
	return &tx, nil
}

func (f *fakeRPC) GetBlock(slot uint64) ([]*Transaction, error) {
	var out []*Transaction
	for _, s := range f.sigs {
		if s.Slot == slot {
			tx := *f.txs[s.Signature]
			out = append(out, &tx)
		}
	}
	return out, nil
}

func TestReader_EmitsOldestFirstAndDedupsFinalized(t *testing.T) {
	// newest-first as the RPC would return it: sig3 (slot 3, finalized),
	// sig2 (slot 2, confirmed), sig1 (slot 1, finalized).
	rpc := &fakeRPC{
		sigs: []SignatureInfo{
			{Signature: "sig3", Slot: 3, Status: StatusFinalized},
			{Signature: "sig2", Slot: 2, Status: StatusConfirmed},
			{Signature: "sig1", Slot: 1, Status: StatusFinalized},
		},
		txs: map[string]*Transaction{
			"sig3": {Signature: "sig3", Slot: 3},
			"sig2": {Signature: "sig2", Slot: 2},
			"sig1": {Signature: "sig1", Slot: 1},
		},
	}

	r := NewReader(rpc, zerolog.Nop(), 10*time.Millisecond)
	confirmedCh := r.Confirmed()
	finalizedCh := r.Finalized()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go r.Run(ctx, "")

	var confirmedOrder, finalizedOrder []string
	timeout := time.After(200 * time.Millisecond)
	for len(confirmedOrder) < 3 || len(finalizedOrder) < 2 {
		select {
		case tx := <-confirmedCh:
			confirmedOrder = append(confirmedOrder, tx.Signature)
		case tx := <-finalizedCh:
			finalizedOrder = append(finalizedOrder, tx.Signature)
		case <-timeout:
			t.Fatalf("timed out waiting for events: confirmed=%v finalized=%v", confirmedOrder, finalizedOrder)
		}
	}

	if confirmedOrder[0] != "sig1" || confirmedOrder[1] != "sig2" || confirmedOrder[2] != "sig3" {
		t.Fatalf("expected oldest-first confirmed order, got %v", confirmedOrder)
	}
	if finalizedOrder[0] != "sig1" || finalizedOrder[1] != "sig3" {
		t.Fatalf("expected oldest-first finalized order, got %v", finalizedOrder)
	}
}
