package mint

import (
	"context"
	"testing"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint/storage"
)

func TestMintTokensHappyPath(t *testing.T) {
	m, lnBackend, _, _ := newTestMint(t)

	quote, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 64,
		Unit:   "sat",
	})
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	payload := quote.Payload.(*storage.Bolt11MintPayload)
	lnBackend.MarkPaid(payload.PaymentRequest)

	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())
	msg, _ := blindedMessage(t, satKeyset, "mint-secret-1", 64)

	sigs, err := m.MintTokens(context.Background(), cashu.Bolt11, quote.Id, cashu.BlindedMessages{msg})
	if err != nil {
		t.Fatalf("MintTokens: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Amount != 64 {
		t.Fatalf("unexpected signatures: %+v", sigs)
	}

	stored, err := m.db.GetQuote(quote.Id)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if !stored.Issued {
		t.Fatal("expected quote to be marked issued")
	}
}

func TestMintTokensIdempotentReplay(t *testing.T) {
	m, lnBackend, _, _ := newTestMint(t)

	quote, _ := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 32,
		Unit:   "sat",
	})
	payload := quote.Payload.(*storage.Bolt11MintPayload)
	lnBackend.MarkPaid(payload.PaymentRequest)

	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())
	msg, _ := blindedMessage(t, satKeyset, "mint-secret-replay", 32)

	first, err := m.MintTokens(context.Background(), cashu.Bolt11, quote.Id, cashu.BlindedMessages{msg})
	if err != nil {
		t.Fatalf("first MintTokens: %v", err)
	}

	second, err := m.MintTokens(context.Background(), cashu.Bolt11, quote.Id, cashu.BlindedMessages{msg})
	if err != nil {
		t.Fatalf("replayed MintTokens: %v", err)
	}
	if first[0].C_ != second[0].C_ {
		t.Fatal("expected replayed request to return the same signature, not re-sign")
	}
}

func TestMintTokensRejectsUnpaidQuote(t *testing.T) {
	m, _, _, _ := newTestMint(t)

	quote, _ := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 16,
		Unit:   "sat",
	})
	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())
	msg, _ := blindedMessage(t, satKeyset, "mint-secret-unpaid", 16)

	_, err := m.MintTokens(context.Background(), cashu.Bolt11, quote.Id, cashu.BlindedMessages{msg})
	if err != cashu.MintQuoteRequestNotPaid {
		t.Fatalf("expected MintQuoteRequestNotPaid, got %v", err)
	}
}

func TestMintTokensRejectsOutputsOverQuoteAmount(t *testing.T) {
	m, lnBackend, _, _ := newTestMint(t)

	quote, _ := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method: cashu.Bolt11,
		Amount: 8,
		Unit:   "sat",
	})
	payload := quote.Payload.(*storage.Bolt11MintPayload)
	lnBackend.MarkPaid(payload.PaymentRequest)

	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())
	msg, _ := blindedMessage(t, satKeyset, "mint-secret-over", 16)

	_, err := m.MintTokens(context.Background(), cashu.Bolt11, quote.Id, cashu.BlindedMessages{msg})
	if err != cashu.OutputsOverQuoteAmountErr {
		t.Fatalf("expected OutputsOverQuoteAmountErr, got %v", err)
	}
}

func TestMintTokensBitcreditBeforeMaturityRequiresBillKeyset(t *testing.T) {
	m, _, _, bitcreditBackend := newTestMint(t)
	maturity := nowUnix() + 3600
	bitcreditBackend.RegisterBill("node-2", "bill-2", maturity)

	quote, err := m.RequestMintQuote(context.Background(), MintQuoteRequest{
		Method:          cashu.Bitcredit,
		Amount:          100,
		Unit:            "crsat",
		BitcreditNodeId: "node-2",
		BitcreditBillId: "bill-2",
	})
	if err != nil {
		t.Fatalf("RequestMintQuote: %v", err)
	}
	bitcreditBackend.Endorse("node-2", "bill-2")

	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())
	wrongMsg, _ := blindedMessage(t, satKeyset, "bitcredit-wrong-keyset", 100)

	if _, err := m.MintTokens(context.Background(), cashu.Bitcredit, quote.Id, cashu.BlindedMessages{wrongMsg}); err == nil {
		t.Fatal("expected an error minting a pre-maturity bitcredit quote against the sat keyset")
	}

	billKeyset := m.billKeyset("bill-2", "node-2")
	rightMsg, _ := blindedMessage(t, billKeyset, "bitcredit-right-keyset", 64)

	sigs, err := m.MintTokens(context.Background(), cashu.Bitcredit, quote.Id, cashu.BlindedMessages{rightMsg})
	if err != nil {
		t.Fatalf("MintTokens against the bill's own keyset: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("expected one signature, got %d", len(sigs))
	}
}
