package mint

import (
	"context"
	"errors"
	"fmt"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint/settlement"
	"github.com/coinshelf/mint/mint/storage"
)

// MeltResult is what a successful melt returns: proof the rail paid
// out, plus any change owed back to the wallet for proofs that
// overshot the quote amount plus fee.
type MeltResult struct {
	Preimage string
	TxId     string
	Change   cashu.BlindedSignatures
}

// MeltTokens redeems proofs to settle a melt quote: it verifies the
// inputs, marks them spent, and only then asks the settlement rail to
// pay out, so a concurrent retry on the same proofs cannot slip past
// the spend check and pay twice. If the rail's call fails, the spend
// is rolled back and the proofs remain usable; if it succeeds, the
// spend and the quote's paid state commit together with any change
// signatures.
func (m *Mint) MeltTokens(ctx context.Context, method cashu.Method, id string, proofs cashu.Proofs, change cashu.BlindedMessages) (MeltResult, error) {
	quote, err := m.db.GetQuote(id)
	if err != nil {
		return MeltResult{}, cashu.QuoteNotExistErr
	}
	if !quoteMethodMatches(quote, method) {
		return MeltResult{}, cashu.PaymentMethodNotSupportedErr
	}

	if quote.Paid {
		// Idempotent replay: the same quote was already settled, most
		// likely by a retried request after a dropped response. Return
		// what was issued the first time rather than spending again.
		return m.replayMelt(quote, change)
	}
	if quote.Expired(nowUnix()) {
		return MeltResult{}, cashu.QuoteExpiredErr
	}

	if err := m.verifyProofs(ctx, proofs); err != nil {
		return MeltResult{}, err
	}

	inputsAmount := proofs.Amount()
	feeReserve, err := meltFeeReserve(quote)
	if err != nil {
		return MeltResult{}, err
	}
	if inputsAmount < quote.Amount+feeReserve {
		return MeltResult{}, cashu.InsufficientProofsAmount
	}

	tx, err := m.db.Begin()
	if err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("opening transaction: %v", err), cashu.DBErrCode)
	}

	spent := make([]storage.SpentSecret, len(proofs))
	for i, proof := range proofs {
		spent[i] = storage.SpentSecret{Secret: proof.Secret, Amount: proof.Amount, KeysetId: proof.KeysetId}
	}
	if conflict, err := m.db.CheckAndInsertSpent(tx, spent); err != nil {
		_ = tx.Rollback()
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("inserting spent secrets: %v", err), cashu.DBErrCode)
	} else if conflict != "" {
		_ = tx.Rollback()
		return MeltResult{}, cashu.ProofAlreadyUsedErr
	}

	result, err := m.settleMeltQuote(ctx, tx, quote, feeReserve)
	if err != nil {
		// Inputs are released: the rail never moved value, so this
		// proof set must remain spendable for a later retry.
		_ = tx.Rollback()
		return MeltResult{}, err
	}

	overpaid := inputsAmount - quote.Amount - result.actualFeeSat
	changeSigs, err := m.issueChange(tx, change, overpaid)
	if err != nil {
		_ = tx.Rollback()
		return MeltResult{}, err
	}

	// Only bolt11 melt quotes have a preimage column; an on-chain
	// payout's txid is reported back to the caller but not persisted,
	// since a retried on-chain melt request is expected to be resolved
	// by checking the destination address directly rather than replay.
	if quote.Kind == storage.MeltBolt11Quote {
		if err := m.db.SetMeltPreimage(tx, quote.Id, result.preimage); err != nil {
			_ = tx.Rollback()
			return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("saving preimage: %v", err), cashu.DBErrCode)
		}
	}
	if err := m.db.UpdateQuoteStatus(tx, quote.Id, true, quote.Issued); err != nil {
		_ = tx.Rollback()
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("marking quote paid: %v", err), cashu.DBErrCode)
	}

	if err := tx.Commit(); err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("committing melt: %v", err), cashu.DBErrCode)
	}

	m.logInfof("melted %d sat for quote '%s', preimage '%s'", quote.Amount, quote.Id, result.preimage)
	return MeltResult{Preimage: result.preimage, TxId: result.txId, Change: changeSigs}, nil
}

type meltOutcome struct {
	preimage     string
	txId         string
	actualFeeSat uint64
}

// settleMeltQuote dispatches the actual payout to whichever rail the
// quote names.
func (m *Mint) settleMeltQuote(ctx context.Context, tx *storage.Tx, quote storage.Quote, feeReserve uint64) (meltOutcome, error) {
	switch payload := quote.Payload.(type) {
	case *storage.Bolt11MeltPayload:
		if m.lightning == nil {
			return meltOutcome{}, cashu.SettlementUnavailableErr
		}

		if outcome, settled, err := m.settleMeltInternally(ctx, tx, payload); err != nil {
			return meltOutcome{}, err
		} else if settled {
			return outcome, nil
		}

		result, err := m.lightning.PayInvoice(ctx, payload.PaymentRequest, feeReserve*1000)
		if err != nil {
			return meltOutcome{}, meltPaymentError(err)
		}
		return meltOutcome{preimage: result.Preimage, actualFeeSat: result.ActualFeeMsat / 1000}, nil

	case *storage.OnchainMeltPayload:
		if m.onchain == nil {
			return meltOutcome{}, cashu.SettlementUnavailableErr
		}
		txId, err := m.onchain.Send(ctx, payload.Address, quote.Amount)
		if err != nil {
			return meltOutcome{}, cashu.BuildCashuError(fmt.Sprintf("sending on-chain payout: %v", err), cashu.SettlementErrCode)
		}
		return meltOutcome{preimage: txId, txId: txId, actualFeeSat: feeReserve}, nil

	default:
		return meltOutcome{}, cashu.StandardErr
	}
}

// settleMeltInternally checks whether payload's invoice is also the
// subject of one of this mint's own open mint quotes. If so, paying it
// out over the Lightning network would just route value back to the
// mint itself, so the two quotes are cleared against each other
// directly: the mint quote is marked paid in the same transaction and
// the melt reuses its invoice's own preimage, with no call to the
// settlement backend's PayInvoice.
func (m *Mint) settleMeltInternally(ctx context.Context, tx *storage.Tx, payload *storage.Bolt11MeltPayload) (meltOutcome, bool, error) {
	mintQuote, err := m.db.GetMintQuoteByPaymentHash(payload.PaymentHash)
	if err != nil {
		return meltOutcome{}, false, nil
	}
	if mintQuote.Paid {
		return meltOutcome{}, false, nil
	}

	preimage, found, err := m.lightning.InvoicePreimage(ctx, payload.PaymentHash)
	if err != nil {
		return meltOutcome{}, false, cashu.BuildCashuError(fmt.Sprintf("looking up invoice preimage: %v", err), cashu.SettlementErrCode)
	}
	if !found {
		return meltOutcome{}, false, nil
	}

	if err := m.db.UpdateQuoteStatus(tx, mintQuote.Id, true, mintQuote.Issued); err != nil {
		return meltOutcome{}, false, cashu.BuildCashuError(fmt.Sprintf("settling matching mint quote internally: %v", err), cashu.DBErrCode)
	}
	m.logInfof("settling melt quote against mint quote '%s' internally: same invoice, no payment routed", mintQuote.Id)

	return meltOutcome{preimage: preimage, actualFeeSat: 0}, true, nil
}

func meltPaymentError(err error) error {
	switch {
	case errors.Is(err, settlement.ErrInsufficientReserve):
		return cashu.InsufficientReserveErr
	case errors.Is(err, settlement.ErrNoRoute), errors.Is(err, settlement.ErrPaymentFailed):
		return cashu.BuildCashuError(fmt.Sprintf("payment failed: %v", err), cashu.SettlementErrCode)
	case errors.Is(err, settlement.ErrAdapterUnavailable):
		return cashu.SettlementUnavailableErr
	default:
		return cashu.BuildCashuError(fmt.Sprintf("paying invoice: %v", err), cashu.SettlementErrCode)
	}
}

func meltFeeReserve(quote storage.Quote) (uint64, error) {
	switch payload := quote.Payload.(type) {
	case *storage.Bolt11MeltPayload:
		return payload.FeeReserve, nil
	case *storage.OnchainMeltPayload:
		return payload.FeeReserve, nil
	default:
		return 0, cashu.StandardErr
	}
}

// issueChange signs change outputs up to the amount actually owed
// back to the wallet, rejecting a request that tries to claim more
// change than overpaid allows.
func (m *Mint) issueChange(tx *storage.Tx, change cashu.BlindedMessages, overpaid uint64) (cashu.BlindedSignatures, error) {
	if len(change) == 0 {
		return nil, nil
	}
	changeAmount, err := change.AmountChecked()
	if err != nil {
		return nil, cashu.InvalidBlindedMessageAmount
	}
	if changeAmount > overpaid {
		return nil, cashu.OutputsOverQuoteAmountErr
	}

	sigs, err := m.signBlindedMessages(change)
	if err != nil {
		return nil, err
	}

	issued := make([]storage.IssuedOutput, len(change))
	for i, msg := range change {
		issued[i] = storage.IssuedOutput{B_: msg.B_, Amount: msg.Amount, KeysetId: msg.KeysetId, C_: sigs[i].C_}
	}
	if conflict, err := m.db.CheckAndInsertIssued(tx, issued); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("inserting change outputs: %v", err), cashu.DBErrCode)
	} else if conflict != "" {
		return nil, cashu.OutputAlreadyIssuedErr
	}

	return sigs, nil
}

// replayMelt answers a retried melt request against an already-paid
// quote idempotently: it never re-spends anything, it just looks up
// what was issued the first time.
func (m *Mint) replayMelt(quote storage.Quote, change cashu.BlindedMessages) (MeltResult, error) {
	var preimage string
	switch payload := quote.Payload.(type) {
	case *storage.Bolt11MeltPayload:
		preimage = payload.Preimage
	case *storage.OnchainMeltPayload:
		preimage = payload.TxId
	}

	if len(change) == 0 {
		return MeltResult{Preimage: preimage}, nil
	}

	sigs, err := m.db.GetIssuedSignatures(change.BValues())
	if err != nil {
		return MeltResult{}, cashu.BuildCashuError(fmt.Sprintf("looking up issued change: %v", err), cashu.DBErrCode)
	}
	return MeltResult{Preimage: preimage, Change: sigs}, nil
}
