// Package settlement defines the polymorphic interface the mint
// engine uses to reach whatever rail actually moves value: Lightning,
// on-chain Bitcoin, or a bitcredit bill-of-exchange instrument.
package settlement

import (
	"context"
	"errors"
)

// Adapter is the capability set every settlement backend exposes,
// regardless of rail.
type Adapter interface {
	// CreateInvoice requests a new payable instrument for amount
	// (denominated in the adapter's own unit), tagged with key (the
	// quote id, used by the backend to correlate a later payment
	// notification back to the quote that requested it). It returns the
	// payment request string the client should be shown and an internal
	// hash the adapter and mint both use to look the invoice back up.
	CreateInvoice(ctx context.Context, amount uint64, key string) (CreatedInvoice, error)

	// IsInvoicePaid reports whether paymentRequest has settled. It is
	// side-effect free and safe to call repeatedly.
	IsInvoicePaid(ctx context.Context, paymentRequest string) (bool, error)

	// DecodeInvoice parses paymentRequest without paying or creating
	// anything, for melt-quote amount/fee calculation.
	DecodeInvoice(ctx context.Context, paymentRequest string) (DecodedInvoice, error)

	// PayInvoice pays paymentRequest, refusing to spend more than
	// maxFeeMsat on routing (the LNbits backend does not apply this
	// limit). It fails with ErrPaymentFailed, ErrNoRoute, or
	// ErrInsufficientReserve.
	PayInvoice(ctx context.Context, paymentRequest string, maxFeeMsat uint64) (PaymentResult, error)

	// InvoicePreimage returns the preimage of an invoice this adapter
	// itself created, if it recognizes paymentHash. A payee always
	// holds its own invoice's preimage independently of whether it has
	// been settled, which lets the mint clear a melt quote against a
	// mint quote naming the same invoice without routing a real
	// payment. found is false if the adapter has no record of having
	// issued that invoice.
	InvoicePreimage(ctx context.Context, paymentHash string) (preimage string, found bool, err error)
}

type CreatedInvoice struct {
	PaymentRequest string
	InternalHash   string
	ExpiresAt      int64
}

type DecodedInvoice struct {
	AmountMsat  uint64
	PaymentHash string
	Expiry      int64
}

type PaymentResult struct {
	Preimage      string
	ActualFeeMsat uint64
}

var (
	// ErrAdapterUnavailable is a transient failure: the backend could
	// not be reached at all. The engine treats this distinctly from a
	// definitive payment failure and leaves inputs unspent so the
	// caller may retry.
	ErrAdapterUnavailable  = errors.New("settlement: adapter unavailable")
	ErrPaymentFailed       = errors.New("settlement: payment failed")
	ErrNoRoute             = errors.New("settlement: no route to destination")
	ErrInsufficientReserve = errors.New("settlement: insufficient reserve to pay invoice")
)
