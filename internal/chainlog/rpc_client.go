package chainlog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// HTTPRPCSource implements RPCSource against a chain RPC read endpoint.
// The endpoint's exact wire protocol, connection pooling, and retry
// policy are an external collaborator (spec §1 "Out of scope"); this
// type only shapes the three calls this package needs.
type HTTPRPCSource struct {
	BaseURL   string
	ProgramID string
	Client    *http.Client
}

func NewHTTPRPCSource(baseURL, programID string) *HTTPRPCSource {
	return &HTTPRPCSource{BaseURL: baseURL, ProgramID: programID, Client: &http.Client{}}
}

type signaturesResponse struct {
	Signatures []struct {
		Signature string `json:"signature"`
		Slot      uint64 `json:"slot"`
		Status    string `json:"status"`
	} `json:"signatures"`
}

func (h *HTTPRPCSource) get(path string, query url.Values, out interface{}) error {
	endpoint, err := url.Parse(h.BaseURL)
	if err != nil {
		return fmt.Errorf("chainlog: invalid base URL: %w", err)
	}
	endpoint.Path = path
	endpoint.RawQuery = query.Encode()

	resp, err := h.Client.Get(endpoint.String())
	if err != nil {
		return fmt.Errorf("chainlog: rpc request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chainlog: rpc request returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseStatus(s string) Status {
	switch s {
	case "finalized":
		return StatusFinalized
	case "confirmed":
		return StatusConfirmed
	default:
		return StatusProcessed
	}
}

func (h *HTTPRPCSource) SignaturesBefore(before string, limit int) ([]SignatureInfo, error) {
	q := url.Values{}
	q.Set("address", h.ProgramID)
	q.Set("limit", strconv.Itoa(limit))
	if before != "" {
		q.Set("before", before)
	}
	var resp signaturesResponse
	if err := h.get("/signatures", q, &resp); err != nil {
		return nil, err
	}
	out := make([]SignatureInfo, len(resp.Signatures))
	for i, s := range resp.Signatures {
		out[i] = SignatureInfo{Signature: s.Signature, Slot: s.Slot, Status: parseStatus(s.Status)}
	}
	return out, nil
}

type transactionResponse struct {
	Signature string   `json:"signature"`
	Slot      uint64   `json:"slot"`
	Status    string   `json:"status"`
	LogLines  []string `json:"log_messages"`
}

func (h *HTTPRPCSource) GetTransaction(signature string) (*Transaction, error) {
	q := url.Values{}
	q.Set("signature", signature)
	var resp transactionResponse
	if err := h.get("/transaction", q, &resp); err != nil {
		return nil, err
	}
	return &Transaction{
		Signature: resp.Signature,
		Slot:      resp.Slot,
		Status:    parseStatus(resp.Status),
		LogLines:  resp.LogLines,
	}, nil
}

type blockResponse struct {
	Transactions []transactionResponse `json:"transactions"`
}

func (h *HTTPRPCSource) GetBlock(slot uint64) ([]*Transaction, error) {
	q := url.Values{}
	q.Set("slot", strconv.FormatUint(slot, 10))
	var resp blockResponse
	if err := h.get("/block", q, &resp); err != nil {
		return nil, err
	}
	out := make([]*Transaction, len(resp.Transactions))
	for i, tx := range resp.Transactions {
		out[i] = &Transaction{
			Signature: tx.Signature,
			Slot:      tx.Slot,
			Status:    parseStatus(tx.Status),
			LogLines:  tx.LogLines,
		}
	}
	return out, nil
}
