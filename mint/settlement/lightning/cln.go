package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/coinshelf/mint/mint/settlement"
)

const (
	ClnRestURLEnv = "CLN_REST_URL"
	ClnRuneEnv    = "CLN_RUNE"

	clnInvoiceExpirySecs = 600
)

// ClnBackend talks to Core Lightning's CLNRest plugin over HTTPS,
// authenticating with a rune the way the plugin's own documentation
// shows.
type ClnBackend struct {
	restURL string
	rune    string
	client  *http.Client
}

func NewClnBackend() (*ClnBackend, error) {
	restURL := os.Getenv(ClnRestURLEnv)
	if restURL == "" {
		return nil, errors.New(ClnRestURLEnv + " cannot be empty")
	}
	rune := os.Getenv(ClnRuneEnv)
	if rune == "" {
		return nil, errors.New(ClnRuneEnv + " cannot be empty")
	}

	return &ClnBackend{
		restURL: restURL,
		rune:    rune,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type clnErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func (b *ClnBackend) post(ctx context.Context, path string, body any) ([]byte, int, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.restURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Rune", b.rune)
	req.Header.Set("Accept", "application/json")
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

func clnError(statusCode int, body []byte) error {
	var errRes clnErrorResponse
	if err := json.Unmarshal(body, &errRes); err != nil {
		return fmt.Errorf("cln: unexpected response (status %d): %s", statusCode, body)
	}
	return fmt.Errorf("cln: %s", errRes.Message)
}

func (b *ClnBackend) CreateInvoice(ctx context.Context, amount uint64, key string) (settlement.CreatedInvoice, error) {
	body := map[string]any{
		"amount_msat": amount * 1000,
		"label":       fmt.Sprintf("%s-%d", key, rand.Int64()),
		"description": "mint invoice",
		"expiry":      clnInvoiceExpirySecs,
	}

	respBytes, status, err := b.post(ctx, "/v1/invoice", body)
	if err != nil {
		return settlement.CreatedInvoice{}, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return settlement.CreatedInvoice{}, clnError(status, respBytes)
	}

	var response struct {
		Bolt11      string `json:"bolt11"`
		PaymentHash string `json:"payment_hash"`
	}
	if err := json.Unmarshal(respBytes, &response); err != nil {
		return settlement.CreatedInvoice{}, fmt.Errorf("cln: parsing invoice response: %w", err)
	}

	return settlement.CreatedInvoice{
		PaymentRequest: response.Bolt11,
		InternalHash:   response.PaymentHash,
		ExpiresAt:      time.Now().Add(clnInvoiceExpirySecs * time.Second).Unix(),
	}, nil
}

type clnInvoiceStatus struct {
	Bolt11      string `json:"bolt11"`
	PaymentHash string `json:"payment_hash"`
	Preimage    string `json:"payment_preimage"`
	AmountMsat  uint64 `json:"amount_msat"`
	Status      string `json:"status"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (b *ClnBackend) lookupByPaymentHash(ctx context.Context, paymentHash string) (clnInvoiceStatus, error) {
	respBytes, status, err := b.post(ctx, "/v1/listinvoices", map[string]string{"payment_hash": paymentHash})
	if err != nil {
		return clnInvoiceStatus{}, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return clnInvoiceStatus{}, clnError(status, respBytes)
	}

	var response struct {
		Invoices []clnInvoiceStatus `json:"invoices"`
	}
	if err := json.Unmarshal(respBytes, &response); err != nil {
		return clnInvoiceStatus{}, fmt.Errorf("cln: parsing listinvoices response: %w", err)
	}
	if len(response.Invoices) == 0 {
		return clnInvoiceStatus{}, errors.New("cln: invoice not found")
	}
	return response.Invoices[0], nil
}

func (b *ClnBackend) IsInvoicePaid(ctx context.Context, paymentRequest string) (bool, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return false, fmt.Errorf("cln: decoding invoice: %w", err)
	}

	invoice, err := b.lookupByPaymentHash(ctx, decoded.PaymentHash)
	if err != nil {
		return false, err
	}
	return invoice.Status == "paid", nil
}

func (b *ClnBackend) InvoicePreimage(ctx context.Context, paymentHash string) (string, bool, error) {
	invoice, err := b.lookupByPaymentHash(ctx, paymentHash)
	if err != nil || invoice.Preimage == "" {
		return "", false, nil
	}
	return invoice.Preimage, true, nil
}

func (b *ClnBackend) DecodeInvoice(ctx context.Context, paymentRequest string) (settlement.DecodedInvoice, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return settlement.DecodedInvoice{}, fmt.Errorf("cln: decoding invoice: %w", err)
	}

	return settlement.DecodedInvoice{
		AmountMsat:  uint64(decoded.MSatoshi),
		PaymentHash: decoded.PaymentHash,
		Expiry:      int64(decoded.CreatedAt) + int64(decoded.Expiry),
	}, nil
}

func (b *ClnBackend) PayInvoice(ctx context.Context, paymentRequest string, maxFeeMsat uint64) (settlement.PaymentResult, error) {
	body := map[string]any{
		"bolt11": paymentRequest,
		"maxfee": maxFeeMsat,
	}

	respBytes, status, err := b.post(ctx, "/v1/pay", body)
	if err != nil {
		return settlement.PaymentResult{}, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return settlement.PaymentResult{}, fmt.Errorf("%w: %v", settlement.ErrPaymentFailed, clnError(status, respBytes))
	}

	var response struct {
		PaymentPreimage string `json:"payment_preimage"`
		AmountSentMsat  uint64 `json:"amount_sent_msat"`
		AmountMsat      uint64 `json:"amount_msat"`
	}
	if err := json.Unmarshal(respBytes, &response); err != nil {
		return settlement.PaymentResult{}, fmt.Errorf("cln: parsing pay response: %w", err)
	}

	feeMsat := response.AmountSentMsat - response.AmountMsat
	return settlement.PaymentResult{Preimage: response.PaymentPreimage, ActualFeeMsat: feeMsat}, nil
}
