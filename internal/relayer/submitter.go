package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RPCSubmitter is a minimal concrete Submitter: it POSTs the built
// instruction to a chain RPC write endpoint and reports back whatever
// that endpoint says landed. The RPC pool's connection management and
// retry policy are an external collaborator (spec §1 "Out of scope");
// this type only shapes the one request/response this package needs.
type RPCSubmitter struct {
	Endpoint string
	Client   *http.Client
}

func NewRPCSubmitter(endpoint string) *RPCSubmitter {
	return &RPCSubmitter{Endpoint: endpoint, Client: &http.Client{}}
}

type submitRequest struct {
	ProgramID    Pubkey        `json:"program_id"`
	Accounts     []AccountMeta `json:"accounts"`
	Data         HexBytes      `json:"data"`
	ComputeUnits uint32        `json:"compute_units"`
	FeePayer     Pubkey        `json:"fee_payer"`
}

type submitResponse struct {
	Signature string `json:"signature"`
	Landed    bool   `json:"landed"`
	Error     string `json:"error,omitempty"`
}

func (s *RPCSubmitter) Submit(ctx context.Context, ix Instruction, computeUnits uint32, feePayer Pubkey) (SubmitResult, error) {
	body, err := json.Marshal(submitRequest{
		ProgramID:    ix.ProgramID,
		Accounts:     ix.Accounts,
		Data:         HexBytes(ix.Data),
		ComputeUnits: computeUnits,
		FeePayer:     feePayer,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("relayer: encode submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("relayer: build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		// Transport failure: the transaction's fate is unknown.
		return SubmitResult{Landed: false}, nil
	}
	defer resp.Body.Close()

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SubmitResult{Landed: false}, nil
	}

	var landedErr error
	if out.Error != "" {
		landedErr = fmt.Errorf("relayer: chain rejected transaction: %s", out.Error)
	}
	return SubmitResult{Signature: out.Signature, Landed: out.Landed, Err: landedErr}, nil
}
