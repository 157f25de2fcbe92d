// Package storage defines the mint's persistence contract: the
// double-spend store (C4), the quote store (C5), and the transaction
// boundary (C8) threaded through both.
package storage

import (
	"database/sql"

	"github.com/coinshelf/mint/cashu"
)

// Tx wraps a *sql.Tx so the engine owns one transaction per operation
// and threads it through every store call that operation makes,
// rather than each store method opening and closing its own
// transaction as the teacher's sqlite package does ad hoc per method.
type Tx struct {
	sqlTx *sql.Tx
}

func NewTx(sqlTx *sql.Tx) *Tx {
	return &Tx{sqlTx: sqlTx}
}

func (tx *Tx) Commit() error {
	return tx.sqlTx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.sqlTx.Rollback()
}

// Raw exposes the underlying *sql.Tx for the sqlite implementation
// package; callers outside mint/storage/sqlite should never need it.
func (tx *Tx) Raw() *sql.Tx {
	return tx.sqlTx
}

// MintDB is the full persistence surface the mint engine depends on.
type MintDB interface {
	Begin() (*Tx, error)
	Close() error

	SaveSeed(seed []byte) error
	GetSeed() ([]byte, error)

	SaveKeyset(DBKeyset) error
	GetKeysets() ([]DBKeyset, error)
	UpdateKeysetActive(id string, active bool) error

	// CheckAndInsertSpent inserts every secret in spent into the
	// spent-secrets table inside tx. It reports the first secret
	// already present, if any, and stops there; rows inserted before
	// the conflict remain in tx, so the caller rolls tx back.
	CheckAndInsertSpent(tx *Tx, spent []SpentSecret) (conflict string, err error)

	// CheckAndInsertIssued atomically inserts every blinded output in
	// issued into the issued-outputs table inside tx, reporting the
	// first B_ already present, if any.
	CheckAndInsertIssued(tx *Tx, issued []IssuedOutput) (conflict string, err error)

	// GetIssuedSignatures looks up previously-issued signatures for a
	// set of B_ values, used by mint-tokens' idempotency check (S1): a
	// retried request with the identical output set returns the
	// signatures already on file rather than re-signing.
	GetIssuedSignatures(bValues []string) (cashu.BlindedSignatures, error)

	SaveQuote(tx *Tx, quote Quote) error
	GetQuote(id string) (Quote, error)
	// GetBitcreditQuoteByBill implements the bitcredit-only `check`
	// operation: look up a mint quote by the bill and node it was
	// opened against.
	GetBitcreditQuoteByBill(billId, nodeId string) (Quote, error)
	// GetMintQuoteByPaymentHash looks up a bolt11 mint quote, paid or
	// not, by the invoice it was opened against, used to settle a melt quote
	// naming the same invoice internally rather than routing a real
	// Lightning payment.
	GetMintQuoteByPaymentHash(paymentHash string) (Quote, error)
	UpdateQuoteStatus(tx *Tx, id string, paid bool, issued bool) error
	SetMeltPreimage(tx *Tx, id string, preimage string) error
}

// DBKeyset is the persisted form of a crypto.MintKeyset: enough to
// rebuild every keypair via crypto.DeriveKeypair without storing the
// derived keys themselves.
type DBKeyset struct {
	Id             string
	Unit           string
	Active         bool
	DerivationPath string
	// BillId is non-empty only for a per-bill bitcredit keyset, whose
	// master secret is derived from the mint's own master secret and
	// the bill id; no key material of the bill itself is used.
	BillId string
}

// SpentSecret is a row in the double-spend store's spent-secrets
// table: enough to explain which proof was redeemed, without storing
// the full proof.
type SpentSecret struct {
	Secret   string
	Amount   uint64
	KeysetId string
}

// IssuedOutput is a row in the issued-outputs table, recording that a
// blinded message has already received a signature.
type IssuedOutput struct {
	B_       string
	Amount   uint64
	KeysetId string
	C_       string
}

// QuoteKind discriminates the Quote tagged union's Payload field.
type QuoteKind int

const (
	MintBolt11Quote QuoteKind = iota
	MeltBolt11Quote
	MintOnchainQuote
	MeltOnchainQuote
	MintBitcreditQuote
)

// Quote is the common shape shared by every quote variant. Payload
// holds the method-specific fields as one of *Bolt11MintPayload,
// *Bolt11MeltPayload, *OnchainMintPayload, *OnchainMeltPayload, or
// *BitcreditMintPayload, selected by Kind.
type Quote struct {
	Id        string
	Kind      QuoteKind
	Unit      string
	Amount    uint64
	CreatedAt int64
	Expiry    int64
	Paid      bool
	// Issued is only meaningful for mint quotes: true once tokens have
	// been signed against this quote.
	Issued  bool
	Payload any
}

func (q Quote) Expired(now int64) bool {
	return now >= q.Expiry
}

type Bolt11MintPayload struct {
	PaymentRequest string
	PaymentHash    string
}

type Bolt11MeltPayload struct {
	PaymentRequest string
	PaymentHash    string
	FeeReserve     uint64
	Preimage       string
}

type OnchainMintPayload struct {
	Address string
}

type OnchainMeltPayload struct {
	Address    string
	FeeReserve uint64
	TxId       string
}

// BitcreditMintPayload identifies the bill-of-exchange instrument a
// bitcredit mint quote is opened against. "Paid" for this variant
// means the bill has been endorsed and sent to the mint.
type BitcreditMintPayload struct {
	BillId string
	NodeId string
}
