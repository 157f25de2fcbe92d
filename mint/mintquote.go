package mint

import (
	"context"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint/storage"
)

// MintQuoteRequest is the method-agnostic shape of a request to open a
// mint quote; BitcreditNodeId/BitcreditBillId are only meaningful when
// Method is cashu.Bitcredit.
type MintQuoteRequest struct {
	Method          cashu.Method
	Amount          uint64
	Unit            string
	BitcreditNodeId string
	BitcreditBillId string
}

// RequestMintQuote opens a quote to mint amount-denominated tokens,
// dispatching to whichever settlement rail method names: a bolt11
// quote gets a fresh Lightning invoice, a btconchain quote gets a
// fresh receive address, and a bitcredit quote is checked against the
// bill it names rather than creating anything new.
func (m *Mint) RequestMintQuote(ctx context.Context, req MintQuoteRequest) (storage.Quote, error) {
	unit, ok := cashu.ParseUnit(req.Unit)
	if !ok {
		return storage.Quote{}, cashu.UnitNotSupportedErr
	}

	if m.limits.MintingSettings.MaxAmount > 0 && req.Amount > m.limits.MintingSettings.MaxAmount {
		return storage.Quote{}, cashu.MintAmountExceededErr
	}

	quoteId := uuid.NewString()
	now := time.Now().Unix()
	expiry := time.Now().Add(mintQuoteExpiry).Unix()

	switch req.Method {
	case cashu.Bolt11:
		if m.lightning == nil {
			return storage.Quote{}, cashu.SettlementUnavailableErr
		}
		m.logInfof("requesting invoice from lightning backend for %d %s", req.Amount, unit)
		invoice, err := m.lightning.CreateInvoice(ctx, req.Amount, quoteId)
		if err != nil {
			return storage.Quote{}, cashu.BuildCashuError(fmt.Sprintf("creating invoice: %v", err), cashu.SettlementErrCode)
		}

		quote := storage.Quote{
			Id:        quoteId,
			Kind:      storage.MintBolt11Quote,
			Unit:      unit.String(),
			Amount:    req.Amount,
			CreatedAt: now,
			Expiry:    expiry,
			Payload: &storage.Bolt11MintPayload{
				PaymentRequest: invoice.PaymentRequest,
				PaymentHash:    invoice.InternalHash,
			},
		}
		if err := m.saveQuote(quote); err != nil {
			return storage.Quote{}, err
		}
		return quote, nil

	case cashu.Onchain:
		if m.onchain == nil {
			return storage.Quote{}, cashu.SettlementUnavailableErr
		}
		index := crc32.ChecksumIEEE([]byte(quoteId))
		address, err := m.onchain.NewAddress(index)
		if err != nil {
			return storage.Quote{}, cashu.BuildCashuError(fmt.Sprintf("deriving receive address: %v", err), cashu.SettlementErrCode)
		}

		quote := storage.Quote{
			Id:        quoteId,
			Kind:      storage.MintOnchainQuote,
			Unit:      unit.String(),
			Amount:    req.Amount,
			CreatedAt: now,
			Expiry:    expiry,
			Payload:   &storage.OnchainMintPayload{Address: address},
		}
		if err := m.saveQuote(quote); err != nil {
			return storage.Quote{}, err
		}
		return quote, nil

	case cashu.Bitcredit:
		if m.bitcredit == nil {
			return storage.Quote{}, cashu.SettlementUnavailableErr
		}
		if req.BitcreditNodeId == "" || req.BitcreditBillId == "" {
			return storage.Quote{}, cashu.BuildCashuError("bitcredit mint quote requires node_id and bill_id", cashu.StandardErrCode)
		}
		status, err := m.bitcredit.CheckBill(ctx, req.BitcreditNodeId, req.BitcreditBillId)
		if err != nil {
			return storage.Quote{}, cashu.BuildCashuError(fmt.Sprintf("checking bill: %v", err), cashu.SettlementErrCode)
		}

		quote := storage.Quote{
			Id:        quoteId,
			Kind:      storage.MintBitcreditQuote,
			Unit:      cashu.Crsat.String(),
			Amount:    req.Amount,
			CreatedAt: now,
			Expiry:    status.MaturityDate,
			Payload:   &storage.BitcreditMintPayload{BillId: req.BitcreditBillId, NodeId: req.BitcreditNodeId},
		}
		if err := m.saveQuote(quote); err != nil {
			return storage.Quote{}, err
		}
		return quote, nil

	default:
		return storage.Quote{}, cashu.PaymentMethodNotSupportedErr
	}
}

func (m *Mint) saveQuote(quote storage.Quote) error {
	tx, err := m.db.Begin()
	if err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("opening transaction: %v", err), cashu.DBErrCode)
	}
	if err := m.db.SaveQuote(tx, quote); err != nil {
		_ = tx.Rollback()
		return cashu.BuildCashuError(fmt.Sprintf("saving quote: %v", err), cashu.DBErrCode)
	}
	if err := tx.Commit(); err != nil {
		return cashu.BuildCashuError(fmt.Sprintf("committing quote: %v", err), cashu.DBErrCode)
	}
	return nil
}

// GetMintQuoteState reports the current state of a mint quote,
// refreshing its paid status against the settlement backend first if
// it was last seen unpaid.
func (m *Mint) GetMintQuoteState(ctx context.Context, method cashu.Method, id string) (storage.Quote, error) {
	quote, err := m.db.GetQuote(id)
	if err != nil {
		return storage.Quote{}, cashu.QuoteNotExistErr
	}
	if !quoteMethodMatches(quote, method) {
		return storage.Quote{}, cashu.PaymentMethodNotSupportedErr
	}

	if quote.Paid {
		return quote, nil
	}

	paid, err := m.checkMintQuotePaid(ctx, quote)
	if err != nil {
		return storage.Quote{}, err
	}
	if !paid {
		return quote, nil
	}

	quote.Paid = true
	tx, err := m.db.Begin()
	if err != nil {
		return storage.Quote{}, cashu.BuildCashuError(fmt.Sprintf("opening transaction: %v", err), cashu.DBErrCode)
	}
	if err := m.db.UpdateQuoteStatus(tx, quote.Id, true, quote.Issued); err != nil {
		_ = tx.Rollback()
		return storage.Quote{}, cashu.BuildCashuError(fmt.Sprintf("updating quote: %v", err), cashu.DBErrCode)
	}
	if err := tx.Commit(); err != nil {
		return storage.Quote{}, cashu.BuildCashuError(fmt.Sprintf("committing quote update: %v", err), cashu.DBErrCode)
	}
	m.logInfof("mint quote '%s' was paid", quote.Id)
	return quote, nil
}

// checkMintQuotePaid asks the rail the quote was opened against
// whether it has settled, without mutating anything.
func (m *Mint) checkMintQuotePaid(ctx context.Context, quote storage.Quote) (bool, error) {
	switch payload := quote.Payload.(type) {
	case *storage.Bolt11MintPayload:
		if m.lightning == nil {
			return false, cashu.SettlementUnavailableErr
		}
		m.logDebugf("checking invoice status for quote '%s'", quote.Id)
		paid, err := m.lightning.IsInvoicePaid(ctx, payload.PaymentRequest)
		if err != nil {
			return false, cashu.BuildCashuError(fmt.Sprintf("checking invoice status: %v", err), cashu.SettlementErrCode)
		}
		return paid, nil

	case *storage.OnchainMintPayload:
		if m.onchain == nil {
			return false, cashu.SettlementUnavailableErr
		}
		status, err := m.onchain.AddressStatus(ctx, payload.Address)
		if err != nil {
			return false, cashu.BuildCashuError(fmt.Sprintf("checking address status: %v", err), cashu.SettlementErrCode)
		}
		return status.Confirmed && status.AmountSat >= quote.Amount, nil

	case *storage.BitcreditMintPayload:
		if m.bitcredit == nil {
			return false, cashu.SettlementUnavailableErr
		}
		status, err := m.bitcredit.CheckBill(ctx, payload.NodeId, payload.BillId)
		if err != nil {
			return false, cashu.BuildCashuError(fmt.Sprintf("checking bill: %v", err), cashu.SettlementErrCode)
		}
		return status.Paid(), nil

	default:
		return false, cashu.StandardErr
	}
}
