package mint

import (
	"context"
	"math"

	"github.com/google/uuid"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/mint/storage"
)

// MeltQuoteRequest mirrors MintQuoteRequest for the melt direction.
// Onchain melts name a destination address directly rather than a
// decodable payment request.
type MeltQuoteRequest struct {
	Method         cashu.Method
	Unit           string
	PaymentRequest string
	OnchainAddress string
	OnchainAmount  uint64
}

// RequestMeltQuote quotes what it will cost to pay request: the
// amount plus a fee reserve the wallet's proofs must cover, computed
// as max(ReserveMinSat, ceil(amount * ReservePercent / 100)) for both
// bolt11 and btconchain quotes.
func (m *Mint) RequestMeltQuote(ctx context.Context, req MeltQuoteRequest) (storage.Quote, error) {
	unit, ok := cashu.ParseUnit(req.Unit)
	if !ok {
		return storage.Quote{}, cashu.UnitNotSupportedErr
	}

	quoteId := uuid.NewString()
	now := nowUnix()
	expiry := now + int64(mintQuoteExpiry.Seconds())

	switch req.Method {
	case cashu.Bolt11:
		if m.lightning == nil {
			return storage.Quote{}, cashu.SettlementUnavailableErr
		}
		decoded, err := m.lightning.DecodeInvoice(ctx, req.PaymentRequest)
		if err != nil {
			return storage.Quote{}, cashu.InvalidInvoiceErr
		}
		amount := decoded.AmountMsat / 1000
		if m.limits.MeltingSettings.MaxAmount > 0 && amount > m.limits.MeltingSettings.MaxAmount {
			return storage.Quote{}, cashu.MeltAmountExceededErr
		}

		feeReserve := m.feeReserveSat(amount)
		quote := storage.Quote{
			Id:        quoteId,
			Kind:      storage.MeltBolt11Quote,
			Unit:      unit.String(),
			Amount:    amount,
			CreatedAt: now,
			Expiry:    expiry,
			Payload: &storage.Bolt11MeltPayload{
				PaymentRequest: req.PaymentRequest,
				PaymentHash:    decoded.PaymentHash,
				FeeReserve:     feeReserve,
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
		if req.OnchainAddress == "" || req.OnchainAmount == 0 {
			return storage.Quote{}, cashu.BuildCashuError("btconchain melt quote requires address and amount", cashu.StandardErrCode)
		}
		feeReserve := m.feeReserveSat(req.OnchainAmount)
		quote := storage.Quote{
			Id:        quoteId,
			Kind:      storage.MeltOnchainQuote,
			Unit:      unit.String(),
			Amount:    req.OnchainAmount,
			CreatedAt: now,
			Expiry:    expiry,
			Payload: &storage.OnchainMeltPayload{
				Address:    req.OnchainAddress,
				FeeReserve: feeReserve,
			},
		}
		if err := m.saveQuote(quote); err != nil {
			return storage.Quote{}, err
		}
		return quote, nil

	default:
		return storage.Quote{}, cashu.PaymentMethodNotSupportedErr
	}
}

// feeReserveSat computes the sat-denominated fee reserve a melt must
// set aside, floored at the configured minimum.
func (m *Mint) feeReserveSat(amountSat uint64) uint64 {
	reserve := uint64(math.Ceil(float64(amountSat) * m.fee.ReservePercent / 100))
	if reserve < m.fee.ReserveMinSat {
		return m.fee.ReserveMinSat
	}
	return reserve
}

// GetMeltQuoteState reports the current state of a melt quote.
func (m *Mint) GetMeltQuoteState(ctx context.Context, method cashu.Method, id string) (storage.Quote, error) {
	quote, err := m.db.GetQuote(id)
	if err != nil {
		return storage.Quote{}, cashu.QuoteNotExistErr
	}
	if !quoteMethodMatches(quote, method) {
		return storage.Quote{}, cashu.PaymentMethodNotSupportedErr
	}
	return quote, nil
}
