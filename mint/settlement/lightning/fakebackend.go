package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"

	"github.com/coinshelf/mint/mint/settlement"
)

// FakePreimage is the preimage every fake-backend payment resolves to.
const FakePreimage = "0000000000000000000000000000000000000000000000000000000000000000"

// FailPaymentDescription is a magic invoice description: a fake-backend
// payment attempt against an invoice carrying it always fails, so
// tests can exercise PayInvoice's error path deterministically.
const FailPaymentDescription = "fail the payment"

type fakeInvoice struct {
	paymentRequest string
	paymentHash    string
	preimage       string
	key            string
	amountMsat     uint64
	settled        bool
	expiry         int64
}

// FakeBackend is an in-memory settlement.Adapter used by tests in
// place of a real Lightning node, generalizing the teacher's
// lightning.FakeBackend to the settlement.Adapter shape.
type FakeBackend struct {
	invoices []fakeInvoice
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{}
}

func (fb *FakeBackend) CreateInvoice(ctx context.Context, amount uint64, key string) (settlement.CreatedInvoice, error) {
	req, preimage, hash, err := createFakeInvoice(amount, false)
	if err != nil {
		return settlement.CreatedInvoice{}, err
	}

	expiry := time.Now().Add(30 * time.Minute).Unix()
	fb.invoices = append(fb.invoices, fakeInvoice{
		paymentRequest: req,
		paymentHash:    hash,
		preimage:       preimage,
		key:            key,
		amountMsat:     amount * 1000,
		settled:        false,
		expiry:         expiry,
	})

	return settlement.CreatedInvoice{PaymentRequest: req, InternalHash: hash, ExpiresAt: expiry}, nil
}

func (fb *FakeBackend) IsInvoicePaid(ctx context.Context, paymentRequest string) (bool, error) {
	idx := slices.IndexFunc(fb.invoices, func(i fakeInvoice) bool { return i.paymentRequest == paymentRequest })
	if idx == -1 {
		return false, errors.New("lightning: invoice does not exist")
	}
	return fb.invoices[idx].settled, nil
}

func (fb *FakeBackend) DecodeInvoice(ctx context.Context, paymentRequest string) (settlement.DecodedInvoice, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return settlement.DecodedInvoice{}, fmt.Errorf("lightning: decoding invoice: %w", err)
	}
	return settlement.DecodedInvoice{
		AmountMsat:  uint64(decoded.MSatoshi),
		PaymentHash: decoded.PaymentHash,
		Expiry:      int64(decoded.CreatedAt) + int64(decoded.Expiry),
	}, nil
}

func (fb *FakeBackend) PayInvoice(ctx context.Context, paymentRequest string, maxFeeMsat uint64) (settlement.PaymentResult, error) {
	decoded, err := decodepay.Decodepay(paymentRequest)
	if err != nil {
		return settlement.PaymentResult{}, fmt.Errorf("lightning: decoding invoice: %w", err)
	}

	if decoded.Description == FailPaymentDescription {
		return settlement.PaymentResult{}, settlement.ErrPaymentFailed
	}

	return settlement.PaymentResult{Preimage: FakePreimage, ActualFeeMsat: 0}, nil
}

// CreateFailingInvoice is CreateInvoice with the invoice tagged so any
// PayInvoice attempt against it fails, for tests exercising a melt's
// payment-failure path deterministically.
func (fb *FakeBackend) CreateFailingInvoice(ctx context.Context, amount uint64, key string) (settlement.CreatedInvoice, error) {
	req, preimage, hash, err := createFakeInvoice(amount, true)
	if err != nil {
		return settlement.CreatedInvoice{}, err
	}

	expiry := time.Now().Add(30 * time.Minute).Unix()
	fb.invoices = append(fb.invoices, fakeInvoice{
		paymentRequest: req,
		paymentHash:    hash,
		preimage:       preimage,
		key:            key,
		amountMsat:     amount * 1000,
		settled:        false,
		expiry:         expiry,
	})

	return settlement.CreatedInvoice{PaymentRequest: req, InternalHash: hash, ExpiresAt: expiry}, nil
}

// InvoicePreimage returns the preimage the fake backend generated when
// it created paymentHash, regardless of whether the invoice has been
// marked paid — mirroring a real node's own knowledge of an invoice it
// issued.
func (fb *FakeBackend) InvoicePreimage(ctx context.Context, paymentHash string) (string, bool, error) {
	idx := slices.IndexFunc(fb.invoices, func(i fakeInvoice) bool { return i.paymentHash == paymentHash })
	if idx == -1 {
		return "", false, nil
	}
	return fb.invoices[idx].preimage, true, nil
}

// MarkPaid settles a previously created fake invoice, the way a real
// backend would after observing the payment on the wire.
func (fb *FakeBackend) MarkPaid(paymentRequest string) {
	idx := slices.IndexFunc(fb.invoices, func(i fakeInvoice) bool { return i.paymentRequest == paymentRequest })
	if idx == -1 {
		return
	}
	fb.invoices[idx].settled = true
}

func createFakeInvoice(amount uint64, failPayment bool) (string, string, string, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	description := "mint invoice"
	if failPayment {
		description = FailPaymentDescription
	}

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description(description),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
