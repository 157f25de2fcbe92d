// Package bitcredit implements the bitcredit settlement rail: a quote
// is backed by a bill of exchange rather than a Lightning invoice or
// an on-chain address, and settlement means the bill has been
// endorsed to the mint and the endorsement sent, as reported by the
// bitcredit node that issued it.
package bitcredit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const NodeURLEnv = "BITCREDIT_NODE_URL"

// BillStatus mirrors what the bitcredit node reports for a bill a
// quote is backed by: whether it has been endorsed to the mint and
// whether that endorsement has actually been sent, plus the bill's
// maturity date, which gates what keyset a swap on this quote mints
// under.
type BillStatus struct {
	Endorsed     bool
	Sent         bool
	MaturityDate int64
}

func (s BillStatus) Paid() bool {
	return s.Endorsed && s.Sent
}

// Adapter queries a bitcredit node for the status of bills backing
// mint quotes. It does not implement settlement.Adapter: a bill isn't
// paid or decoded the way an invoice is, so the mint engine's
// bitcredit quote flow calls CheckBill directly rather than going
// through the polymorphic interface.
type Adapter struct {
	nodeURL string
	client  *http.Client
}

func NewAdapter() (*Adapter, error) {
	nodeURL := os.Getenv(NodeURLEnv)
	if nodeURL == "" {
		return nil, errors.New(NodeURLEnv + " cannot be empty")
	}
	return &Adapter{nodeURL: nodeURL, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (a *Adapter) CheckBill(ctx context.Context, nodeID, billID string) (BillStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/bitcredit/quote/%s/%s", a.nodeURL, nodeID, billID), nil)
	if err != nil {
		return BillStatus{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return BillStatus{}, fmt.Errorf("bitcredit: checking bill status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BillStatus{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return BillStatus{}, fmt.Errorf("bitcredit: unexpected response (status %d): %s", resp.StatusCode, body)
	}

	var status struct {
		Endorsed     bool  `json:"endorsed"`
		Sent         bool  `json:"sent"`
		MaturityDate int64 `json:"maturity_date"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return BillStatus{}, fmt.Errorf("bitcredit: parsing bill status: %w", err)
	}

	return BillStatus{Endorsed: status.Endorsed, Sent: status.Sent, MaturityDate: status.MaturityDate}, nil
}

// RequestSignatures asks the bitcredit node to produce the bill's own
// blind signatures for a mint-quote payload the keyset doesn't hold
// the private key for directly (the bill's key lives with the node,
// not the mint), mirroring the way a bill owner countersigns at mint
// time.
func (a *Adapter) RequestSignatures(ctx context.Context, nodeID, billID string, blindedMessages json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"node_id":          nodeID,
		"bill_id":          billID,
		"blinded_messages": blindedMessages,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.nodeURL+"/v1/bitcredit/mint", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitcredit: requesting signatures: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bitcredit: unexpected response (status %d): %s", resp.StatusCode, respBody)
	}

	return respBody, nil
}
