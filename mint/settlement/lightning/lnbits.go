package lightning

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

	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/coinshelf/mint/mint/settlement"
)

const (
	LnbitsURLEnv            = "LNBITS_URL"
	LnbitsKeyEnv            = "LNBITS_KEY"
	lnbitsInvoiceExpirySecs = 600
)

// LnbitsBackend talks to an LNbits wallet's REST API, authenticating
// with the wallet's admin key the way every LNbits API client does,
// following the same net/http request shape as the CLNRest client.
type LnbitsBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewLnbitsBackend() (*LnbitsBackend, error) {
	baseURL := os.Getenv(LnbitsURLEnv)
	if baseURL == "" {
		return nil, errors.New(LnbitsURLEnv + " cannot be empty")
	}
	apiKey := os.Getenv(LnbitsKeyEnv)
	if apiKey == "" {
		return nil, errors.New(LnbitsKeyEnv + " cannot be empty")
	}

	return &LnbitsBackend{baseURL: baseURL, apiKey: apiKey, client: &http.Client{Timeout: 30 * time.Second}}, nil
}

func (b *LnbitsBackend) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("X-Api-Key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return respBytes, resp.StatusCode, nil
}

type lnbitsErrorResponse struct {
	Detail string `json:"detail"`
}

func lnbitsError(statusCode int, body []byte) error {
	var errRes lnbitsErrorResponse
	if err := json.Unmarshal(body, &errRes); err != nil || errRes.Detail == "" {
		return fmt.Errorf("lnbits: unexpected response (status %d): %s", statusCode, body)
	}
	return fmt.Errorf("lnbits: %s", errRes.Detail)
}

func (b *LnbitsBackend) CreateInvoice(ctx context.Context, amount uint64, key string) (settlement.CreatedInvoice, error) {
	body := map[string]any{
		"out":    false,
		"amount": amount,
		"memo":   key,
		"expiry": lnbitsInvoiceExpirySecs,
		"unit":   "sat",
	}

	respBytes, status, err := b.do(ctx, http.MethodPost, "/api/v1/payments", body)
	if err != nil {
		return settlement.CreatedInvoice{}, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return settlement.CreatedInvoice{}, lnbitsError(status, respBytes)
	}

	var response struct {
		PaymentRequest string `json:"payment_request"`
		PaymentHash    string `json:"payment_hash"`
	}
	if err := json.Unmarshal(respBytes, &response); err != nil {
		return settlement.CreatedInvoice{}, fmt.Errorf("lnbits: parsing invoice response: %w", err)
	}

	return settlement.CreatedInvoice{
		PaymentRequest: response.PaymentRequest,
		InternalHash:   response.PaymentHash,
		ExpiresAt:      time.Now().Add(lnbitsInvoiceExpirySecs * time.Second).Unix(),
	}, nil
}

func (b *LnbitsBackend) IsInvoicePaid(ctx context.Context, paymentRequest string) (bool, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return false, fmt.Errorf("lnbits: decoding invoice: %w", err)
	}

	respBytes, status, err := b.do(ctx, http.MethodGet, "/api/v1/payments/"+decoded.PaymentHash, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}
	if status != http.StatusOK {
		return false, lnbitsError(status, respBytes)
	}

	var response struct {
		Paid bool `json:"paid"`
	}
	if err := json.Unmarshal(respBytes, &response); err != nil {
		return false, fmt.Errorf("lnbits: parsing payment status response: %w", err)
	}
	return response.Paid, nil
}

func (b *LnbitsBackend) InvoicePreimage(ctx context.Context, paymentHash string) (string, bool, error) {
	respBytes, status, err := b.do(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, nil)
	if err != nil || status != http.StatusOK {
		return "", false, nil
	}

	var response struct {
		Preimage string `json:"preimage"`
	}
	if err := json.Unmarshal(respBytes, &response); err != nil || response.Preimage == "" {
		return "", false, nil
	}
	return response.Preimage, true, nil
}

func (b *LnbitsBackend) DecodeInvoice(ctx context.Context, paymentRequest string) (settlement.DecodedInvoice, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return settlement.DecodedInvoice{}, fmt.Errorf("lnbits: decoding invoice: %w", err)
	}

	return settlement.DecodedInvoice{
		AmountMsat:  uint64(decoded.MSatoshi),
		PaymentHash: decoded.PaymentHash,
		Expiry:      int64(decoded.CreatedAt) + int64(decoded.Expiry),
	}, nil
}

// PayInvoice pays paymentRequest from the LNbits wallet. maxFeeMsat is
// not passed to LNbits, and the fee LNbits reports is not compared
// against it.
func (b *LnbitsBackend) PayInvoice(ctx context.Context, paymentRequest string, maxFeeMsat uint64) (settlement.PaymentResult, error) {
	body := map[string]any{
		"out":    true,
		"bolt11": paymentRequest,
	}

	respBytes, status, err := b.do(ctx, http.MethodPost, "/api/v1/payments", body)
	if err != nil {
		return settlement.PaymentResult{}, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return settlement.PaymentResult{}, fmt.Errorf("%w: %v", settlement.ErrPaymentFailed, lnbitsError(status, respBytes))
	}

	var response struct {
		PaymentHash string `json:"payment_hash"`
	}
	if err := json.Unmarshal(respBytes, &response); err != nil {
		return settlement.PaymentResult{}, fmt.Errorf("lnbits: parsing pay response: %w", err)
	}

	details, status, err := b.do(ctx, http.MethodGet, "/api/v1/payments/"+response.PaymentHash, nil)
	if err != nil {
		return settlement.PaymentResult{}, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}
	if status != http.StatusOK {
		return settlement.PaymentResult{}, lnbitsError(status, details)
	}

	var paymentDetails struct {
		Preimage string `json:"preimage"`
		Details  struct {
			Fee int64 `json:"fee"`
		} `json:"details"`
	}
	if err := json.Unmarshal(details, &paymentDetails); err != nil {
		return settlement.PaymentResult{}, fmt.Errorf("lnbits: parsing payment details response: %w", err)
	}

	feeMsat := uint64(0)
	if paymentDetails.Details.Fee < 0 {
		feeMsat = uint64(-paymentDetails.Details.Fee)
	}

	return settlement.PaymentResult{Preimage: paymentDetails.Preimage, ActualFeeMsat: feeMsat}, nil
}
