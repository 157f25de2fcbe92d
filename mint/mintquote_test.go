package mint

import (
	"context"
	"testing"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint/storage"
)

func TestRequestMintQuoteBolt11(t *testing.T) {
	m, _, _, _ := newTestMint(t)

	quote, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 1000,
		Unit:   "sat",
	})
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	if quote.Paid {
		t.Fatal("freshly opened quote should not be paid")
	}
	if quote.Kind != storage.MintBolt11Quote {
		t.Fatalf("expected MintBolt11Quote, got %v", quote.Kind)
	}

	stored, err := m.db.GetQuote(quote.Id)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if stored.Amount != 1000 {
		t.Fatalf("expected stored amount 1000, got %d", stored.Amount)
	}
}

func TestRequestMintQuoteRejectsOverLimit(t *testing.T) {
	m, _, _, _ := newTestMint(t)
	m.limits.MintingSettings.MaxAmount = 500

	_, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 1000,
		Unit:   "sat",
	})
	if err != cashu.MintAmountExceededErr {
		t.Fatalf("expected MintAmountExceededErr, got %v", err)
	}
}

func TestRequestMintQuoteUnknownUnit(t *testing.T) {
	m, _, _, _ := newTestMint(t)

	_, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 100,
		Unit:   "eur",
	})
	if err != cashu.UnitNotSupportedErr {
		t.Fatalf("expected UnitNotSupportedErr, got %v", err)
	}
}

func TestGetMintQuoteStateRefreshesPaidStatus(t *testing.T) {
	m, lnBackend, _, _ := newTestMint(t)

	quote, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 500,
		Unit:   "sat",
	})
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}

	refreshed, err := m.GetMintQuoteState(context.Background(), cashu.Bolt11, quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuoteState: %v", err)
	}
	if refreshed.Paid {
		t.Fatal("quote should still be unpaid before the invoice settles")
	}

	payload, ok := refreshed.Payload.(*storage.Bolt11MintPayload)
	if !ok {
		t.Fatal("expected a bolt11 mint payload")
	}
	lnBackend.MarkPaid(payload.PaymentRequest)

	refreshed, err = m.GetMintQuoteState(context.Background(), cashu.Bolt11, quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuoteState after payment: %v", err)
	}
	if !refreshed.Paid {
		t.Fatal("expected quote to be paid after settling the invoice")
	}
}

func TestRequestMintQuoteWrongMethodOnState(t *testing.T) {
	m, _, _, _ := newTestMint(t)

	quote, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 100,
		Unit:   "sat",
	})
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}

	if _, err := m.GetMintQuoteState(context.Background(), cashu.Onchain, quote.Id); err != cashu.PaymentMethodNotSupportedErr {
		t.Fatalf("expected PaymentMethodNotSupportedErr, got %v", err)
	}
}

func TestRequestMintQuoteOnchain(t *testing.T) {
	m, _, onchainBackend, _ := newTestMint(t)

	quote, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Onchain,
		Amount: 25000,
		Unit:   "sat",
	})
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	payload, ok := quote.Payload.(*storage.OnchainMintPayload)
	if !ok {
		t.Fatal("expected an on-chain mint payload")
	}

	if err := onchainBackend.ReceiveFunds(payload.Address, 25000, 1); err != nil {
		t.Fatalf("ReceiveFunds: %v", err)
	}

	refreshed, err := m.GetMintQuoteState(context.Background(), cashu.Onchain, quote.Id)
	if err != nil {
		t.Fatalf("GetMintQuoteState: %v", err)
	}
	if !refreshed.Paid {
		t.Fatal("expected quote to be paid once funds are confirmed at the receive address")
	}
}

func TestRequestMintQuoteBitcreditRequiresBillReference(t *testing.T) {
	m, _, _, _ := newTestMint(t)

	_, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bitcredit,
		Amount: 1000,
		Unit:   "crsat",
	})
	if err == nil {
		t.Fatal("expected an error when node_id/bill_id are missing")
	}
}

func TestRequestMintQuoteBitcredit(t *testing.T) {
	m, _, _, bitcreditBackend := newTestMint(t)
	bitcreditBackend.RegisterBill("node-1", "bill-1", nowUnix()+3600)

	quote, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method:          cashu.Bitcredit,
		Amount:          2000,
		Unit:            "crsat",
		BitcreditNodeId: "node-1",
		BitcreditBillId: "bill-1",
	})
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	if quote.Unit != cashu.Crsat.String() {
		t.Fatalf("expected crsat unit, got %s", quote.Unit)
	}
	if quote.Expiry <= nowUnix() {
		t.Fatal("expected quote expiry to carry the bill's future maturity date")
	}
}
