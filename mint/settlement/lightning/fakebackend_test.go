package lightning

import (
	"context"
	"testing"
)

func TestFakeBackendCreateAndPayInvoice(t *testing.T) {
	backend := NewFakeBackend()
	ctx := context.Background()

	invoice, err := backend.CreateInvoice(ctx, 1000, "quote-1")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if invoice.PaymentRequest == "" {
		t.Fatal("expected non-empty payment request")
	}

	paid, err := backend.IsInvoicePaid(ctx, invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("IsInvoicePaid: %v", err)
	}
	if paid {
		t.Fatal("expected invoice to be unpaid before MarkPaid")
	}

	backend.MarkPaid(invoice.PaymentRequest)

	paid, err = backend.IsInvoicePaid(ctx, invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("IsInvoicePaid after MarkPaid: %v", err)
	}
	if !paid {
		t.Fatal("expected invoice to be paid after MarkPaid")
	}
}

func TestFakeBackendDecodeInvoice(t *testing.T) {
	backend := NewFakeBackend()
	ctx := context.Background()

	invoice, err := backend.CreateInvoice(ctx, 2000, "quote-2")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	decoded, err := backend.DecodeInvoice(ctx, invoice.PaymentRequest)
	if err != nil {
		t.Fatalf("DecodeInvoice: %v", err)
	}
	if decoded.AmountMsat != 2000*1000 {
		t.Fatalf("expected amount 2000000 msat, got %d", decoded.AmountMsat)
	}
}

func TestFakeBackendPayInvoiceSucceeds(t *testing.T) {
	backend := NewFakeBackend()
	ctx := context.Background()

	invoice, err := backend.CreateInvoice(ctx, 500, "quote-3")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	result, err := backend.PayInvoice(ctx, invoice.PaymentRequest, 100)
	if err != nil {
		t.Fatalf("PayInvoice: %v", err)
	}
	if result.Preimage != FakePreimage {
		t.Fatalf("expected fake preimage, got %s", result.Preimage)
	}
}

func TestFakeBackendPayInvoiceFails(t *testing.T) {
	backend := NewFakeBackend()
	ctx := context.Background()

	req, _, _, err := createFakeInvoice(500, true)
	if err != nil {
		t.Fatalf("createFakeInvoice: %v", err)
	}

	_, err = backend.PayInvoice(ctx, req, 100)
	if err == nil {
		t.Fatal("expected PayInvoice to fail for invoice carrying the fail-payment description")
	}
}

func TestFakeBackendUnknownInvoiceErrors(t *testing.T) {
	backend := NewFakeBackend()
	ctx := context.Background()

	if _, err := backend.IsInvoicePaid(ctx, "lnbc..."); err == nil {
		t.Fatal("expected error for invoice never created through this backend")
	}
}
