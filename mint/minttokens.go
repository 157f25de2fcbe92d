package mint

import (
	"context"
	"fmt"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint/storage"
)

// MintTokens signs blindedMessages against a mint quote that has
// settled, following the state machine: the quote must exist and not
// be expired unless already marked paid, already-signed output sets are returned idempotently
// rather than re-signed, the rail must report payment before anything
// is signed, the output amount may not exceed the quote amount, and
// bitcredit quotes mint under the bill's own keyset before maturity
// and the primary sat keyset at or after it.
func (m *Mint) MintTokens(ctx context.Context, method cashu.Method, id string, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	quote, err := m.db.GetQuote(id)
	if err != nil {
		return nil, cashu.QuoteNotExistErr
	}
	if !quoteMethodMatches(quote, method) {
		return nil, cashu.PaymentMethodNotSupportedErr
	}

	now := nowUnix()
	if quote.Expired(now) && !quote.Paid {
		return nil, cashu.QuoteExpiredErr
	}

	outputsAmount, err := blindedMessages.AmountChecked()
	if err != nil {
		return nil, cashu.InvalidBlindedMessageAmount
	}
	if outputsAmount > quote.Amount {
		return nil, cashu.OutputsOverQuoteAmountErr
	}

	// S1: idempotent retry of an identical, already-issued request.
	existing, err := m.db.GetIssuedSignatures(blindedMessages.BValues())
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("looking up issued signatures: %v", err), cashu.DBErrCode)
	}
	if len(existing) > 0 {
		if len(existing) != len(blindedMessages) {
			return nil, cashu.OutputAlreadyIssuedErr
		}
		return existing, nil
	}

	if quote.Issued {
		return nil, cashu.MintQuoteAlreadyIssued
	}

	paid := quote.Paid
	if !paid {
		paid, err = m.checkMintQuotePaid(ctx, quote)
		if err != nil {
			return nil, err
		}
	}
	if !paid {
		return nil, cashu.MintQuoteRequestNotPaid
	}

	if err := m.resolveMintKeysets(quote, blindedMessages); err != nil {
		return nil, err
	}

	sigs, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	tx, err := m.db.Begin()
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("opening transaction: %v", err), cashu.DBErrCode)
	}

	issued := make([]storage.IssuedOutput, len(blindedMessages))
	for i, msg := range blindedMessages {
		issued[i] = storage.IssuedOutput{B_: msg.B_, Amount: msg.Amount, KeysetId: msg.KeysetId, C_: sigs[i].C_}
	}
	if conflict, err := m.db.CheckAndInsertIssued(tx, issued); err != nil {
		_ = tx.Rollback()
		return nil, cashu.BuildCashuError(fmt.Sprintf("inserting issued outputs: %v", err), cashu.DBErrCode)
	} else if conflict != "" {
		_ = tx.Rollback()
		return nil, cashu.OutputAlreadyIssuedErr
	}

	if err := m.db.UpdateQuoteStatus(tx, quote.Id, true, true); err != nil {
		_ = tx.Rollback()
		return nil, cashu.BuildCashuError(fmt.Sprintf("marking quote issued: %v", err), cashu.DBErrCode)
	}

	if err := tx.Commit(); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("committing mint: %v", err), cashu.DBErrCode)
	}

	m.logInfof("issued %d signatures for mint quote '%s'", len(sigs), quote.Id)
	return sigs, nil
}

func quoteMethodMatches(quote storage.Quote, method cashu.Method) bool {
	switch quote.Kind {
	case storage.MintBolt11Quote, storage.MeltBolt11Quote:
		return method == cashu.Bolt11
	case storage.MintOnchainQuote, storage.MeltOnchainQuote:
		return method == cashu.Onchain
	case storage.MintBitcreditQuote:
		return method == cashu.Bitcredit
	default:
		return false
	}
}

// resolveMintKeysets makes sure every output in blindedMessages names
// a keyset this quote is actually allowed to mint under. A bitcredit
// quote's own per-bill keyset is only valid before the bill's
// maturity date; at or after it, minting switches to the primary sat
// keyset at face value, so an output naming the bill keyset past
// maturity is rejected rather than silently honored.
func (m *Mint) resolveMintKeysets(quote storage.Quote, blindedMessages cashu.BlindedMessages) error {
	payload, ok := quote.Payload.(*storage.BitcreditMintPayload)
	if !ok {
		return nil
	}

	matured := nowUnix() >= quote.Expiry
	billKeyset := m.billKeyset(payload.BillId, payload.NodeId)
	satKeyset, ok := m.GetActiveKeyset(cashu.Sat.String())
	if !ok {
		return cashu.UnknownKeysetErr
	}

	for _, msg := range blindedMessages {
		switch {
		case !matured && msg.KeysetId != billKeyset.Id:
			return cashu.BuildCashuError("bill has not matured: outputs must use the bill's own keyset", cashu.BillNotMaturedErrCode)
		case matured && msg.KeysetId != satKeyset.Id:
			return cashu.BuildCashuError("bill has matured: outputs must use the mint's sat keyset", cashu.BillNotMaturedErrCode)
		}
	}
	return nil
}
