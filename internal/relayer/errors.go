package relayer

import "errors"

// Failure taxonomy (spec §4.D "Failure taxonomy"): every relay() failure
// is one of these kinds, each surfaced to the HTTP caller as 400 with the
// kind's message.
var (
	ErrMessageDuplicated    = errors.New("relayer: message already processed")
	ErrMessageLimitExceeded = errors.New("relayer: message limit exceeded for this quota index")
)

// TransactionError wraps a failure reported by the chain itself once a
// submitted transaction landed (its status came back non-ok).
type TransactionError struct{ Err error }

func (e *TransactionError) Error() string { return "relayer: transaction error: " + e.Err.Error() }
func (e *TransactionError) Unwrap() error { return e.Err }

// TransactorError wraps a failure from the submission pipeline itself
// (RPC/transport), as opposed to the chain rejecting the landed
// transaction.
type TransactorError struct{ Err error }

func (e *TransactorError) Error() string { return "relayer: transactor error: " + e.Err.Error() }
func (e *TransactorError) Unwrap() error { return e.Err }

// SmtError wraps a failure from the tree layer (corrupt node, depth
// exceeded, ...).
type SmtError struct{ Err error }

func (e *SmtError) Error() string { return "relayer: smt error: " + e.Err.Error() }
func (e *SmtError) Unwrap() error { return e.Err }

// StoreError wraps a failure opening or committing the node store.
type StoreError struct{ Err error }

func (e *StoreError) Error() string { return "relayer: store error: " + e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// ProverError wraps a failure building the witness or running Groth16.
type ProverError struct{ Err error }

func (e *ProverError) Error() string { return "relayer: prover error: " + e.Err.Error() }
func (e *ProverError) Unwrap() error { return e.Err }
