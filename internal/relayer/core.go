package relayer

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kysee/zk-anon-vote/internal/prover"
	"github.com/kysee/zk-anon-vote/internal/state"
)

// DefaultMsgLimit is the per-quota-index admission ceiling used when a
// Relayer isn't given an explicit override (spec §4.D step 4,
// RELAYER_MSG_LIMIT).
const DefaultMsgLimit = 3

// RelayCU is the compute budget every relay instruction reserves before
// adding the caller's cu_limit (spec §4.D step 8).
const RelayCU = 200_000

// SubmitResult reports what happened to a submitted chain transaction.
// Landed distinguishes "the chain executed this and rejected it" (Landed
// true, Err non-nil) from "we never learned whether it landed" (Landed
// false) — the relayer only commits tree updates in the first case
// succeeding, and treats the second as the open desync risk spec §9 notes.
type SubmitResult struct {
	Signature string
	Landed    bool
	Err       error
}

// Submitter is the external collaborator that turns an Instruction into a
// signed, submitted chain transaction. Production wiring talks to an RPC
// cluster; tests substitute a fake.
type Submitter interface {
	Submit(ctx context.Context, ix Instruction, computeUnits uint32, feePayer Pubkey) (SubmitResult, error)
}

// Relayer serializes relay() calls per (target_program, state_id),
// proving and submitting one request at a time for a given key while
// different keys proceed fully in parallel (spec §4.D, §5).
type Relayer struct {
	store     *state.Store
	prover    *prover.Prover
	submitter Submitter
	feePayer  Pubkey
	programID Pubkey
	msgLimit  uint64
	log       zerolog.Logger

	mu    sync.Mutex
	locks map[stateKey]*sync.Mutex
}

type stateKey struct {
	program Pubkey
	stateID uint64
}

func New(store *state.Store, pv *prover.Prover, submitter Submitter, feePayer, relayerProgramID Pubkey, msgLimit uint64, log zerolog.Logger) *Relayer {
	if msgLimit == 0 {
		msgLimit = DefaultMsgLimit
	}
	return &Relayer{
		store:     store,
		prover:    pv,
		submitter: submitter,
		feePayer:  feePayer,
		programID: relayerProgramID,
		msgLimit:  msgLimit,
		log:       log,
		locks:     make(map[stateKey]*sync.Mutex),
	}
}

func (r *Relayer) keyLock(key stateKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Relay runs the full admission algorithm for one request (spec §4.D,
// steps 1-9), holding the (target_program, state_id) lock for the entire
// call including the chain round-trip.
func (r *Relayer) Relay(ctx context.Context, req Request) (Response, error) {
	key := stateKey{program: req.TargetProgram, stateID: uint64(req.StateID)}
	lock := r.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	loaded, err := r.store.LoadState([32]byte(req.TargetProgram), uint64(req.StateID))
	if err != nil {
		return Response{}, &StoreError{Err: err}
	}

	quotaIdx := truncateQuotaIndex([32]byte(req.Nu))

	uniqProof, err := loaded.Uniq.GetProof([32]byte(req.MsgHash))
	if err != nil {
		return Response{}, &SmtError{Err: err}
	}
	if uniqProof.Membership {
		return Response{}, ErrMessageDuplicated
	}

	quotaProof, err := loaded.Quota.GetProof(quotaIdx)
	if err != nil {
		return Response{}, &SmtError{Err: err}
	}
	var prevCount uint64
	if quotaProof.Membership {
		prevCount = binary.BigEndian.Uint64(quotaProof.OldValue[24:])
	}
	if prevCount >= r.msgLimit {
		return Response{}, ErrMessageLimitExceeded
	}

	rootQuotaBefore := loaded.Quota.Root()
	rootUniqBefore := loaded.Uniq.Root()

	compressed, pub, err := r.prover.Prove(prover.RelayWitnessInput{
		Nu:        [32]byte(req.Nu),
		MsgHash:   [32]byte(req.MsgHash),
		MsgLimit:  r.msgLimit,
		QuotaKey:  quotaIdx,
		PrevCount: prevCount,
		Quota:     prover.TreeProof{RootBefore: rootQuotaBefore, Proof: quotaProof},
		Uniq:      prover.TreeProof{RootBefore: rootUniqBefore, Proof: uniqProof},
	})
	if err != nil {
		return Response{}, &ProverError{Err: err}
	}

	accounts := BuildAccounts(r.feePayer, r.programID, req.TargetProgram, uint64(req.StateID), req.Accounts)
	data := BuildInstructionData(uint64(req.StateID), compressed, pub.RootStateAfter, [32]byte(req.MsgHash), req.Discriminator, pub.NuHash, []byte(req.Data))
	ix := Instruction{ProgramID: req.TargetProgram, Accounts: accounts, Data: data}

	cu := uint32(RelayCU)
	if req.CULimit != nil {
		cu += *req.CULimit
	}

	result, err := r.submitter.Submit(ctx, ix, cu, r.feePayer)
	if err != nil {
		return Response{}, &TransactorError{Err: err}
	}
	if !result.Landed {
		// Transport error with unknown chain outcome: trees may now be
		// out of sync with chain state on the next request (spec §9).
		return Response{}, &TransactorError{Err: fmt.Errorf("submission outcome unknown")}
	}
	if result.Err != nil {
		return Response{}, &TransactionError{Err: result.Err}
	}

	newCount := prevCount + 1
	var newCountBytes [32]byte
	binary.BigEndian.PutUint64(newCountBytes[24:], newCount)

	if prevCount == 0 {
		if err := loaded.Quota.Add(loaded.QuotaBatch, quotaIdx, newCountBytes); err != nil {
			return Response{}, &SmtError{Err: err}
		}
	} else {
		if _, err := loaded.Quota.Update(loaded.QuotaBatch, quotaIdx, newCountBytes); err != nil {
			return Response{}, &SmtError{Err: err}
		}
	}
	var one [32]byte
	one[31] = 1
	if err := loaded.Uniq.Add(loaded.UniqBatch, [32]byte(req.MsgHash), one); err != nil {
		return Response{}, &SmtError{Err: err}
	}
	if err := loaded.Commit(); err != nil {
		return Response{}, &StoreError{Err: err}
	}

	r.log.Info().Str("msg_hash", req.MsgHash.String()).Str("signature", result.Signature).Msg("relay executed")
	return Response{Signature: result.Signature}, nil
}

// truncateQuotaIndex zeroes the high 32-state.TreeDepth/8 bytes of ν,
// leaving the low state.TreeDepth/8 bytes as the quota SMT key (spec §4.D
// step 2).
func truncateQuotaIndex(nu [32]byte) [32]byte {
	var idx [32]byte
	copy(idx[:], nu[:])
	const live = state.TreeDepth / 8
	for i := 0; i < 32-live; i++ {
		idx[i] = 0
	}
	return idx
}
