package httpapi

import (
	"encoding/hex"
	"strconv"

	"github.com/coinshelf/mint/crypto"
	"github.com/coinshelf/mint/mint/storage"
)

type keysResponse struct {
	Keysets []keysetKeys `json:"keysets"`
}

type keysetKeys struct {
	Id   string            `json:"id"`
	Unit string            `json:"unit"`
	Keys map[string]string `json:"keys"`
}

func buildKeysResponse(keysets map[string]*crypto.MintKeyset) keysResponse {
	resp := keysResponse{}
	for _, ks := range keysets {
		if !ks.Active {
			continue
		}
		resp.Keysets = append(resp.Keysets, keysetToKeys(ks))
	}
	return resp
}

func keysetToKeys(ks *crypto.MintKeyset) keysetKeys {
	keys := make(map[string]string, len(ks.Keys))
	for amount, kp := range ks.Keys {
		keys[amountString(amount)] = hex.EncodeToString(kp.PublicKey.SerializeCompressed())
	}
	return keysetKeys{Id: ks.Id, Unit: ks.Unit, Keys: keys}
}

type keysetsResponse struct {
	Keysets []keysetSummary `json:"keysets"`
}

type keysetSummary struct {
	Id     string `json:"id"`
	Unit   string `json:"unit"`
	Active bool   `json:"active"`
}

func buildKeysetsResponse(keysets map[string]*crypto.MintKeyset) keysetsResponse {
	resp := keysetsResponse{}
	for _, ks := range keysets {
		resp.Keysets = append(resp.Keysets, keysetSummary{Id: ks.Id, Unit: ks.Unit, Active: ks.Active})
	}
	return resp
}

func amountString(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}

type quoteResponse struct {
	Quote   string `json:"quote"`
	Amount  uint64 `json:"amount,omitempty"`
	Request string `json:"request,omitempty"`
	Address string `json:"address,omitempty"`
	Paid    bool   `json:"paid"`
	Expiry  int64  `json:"expiry"`
}

func quoteToResponse(q storage.Quote) quoteResponse {
	resp := quoteResponse{Quote: q.Id, Amount: q.Amount, Paid: q.Paid, Expiry: q.Expiry}
	switch p := q.Payload.(type) {
	case *storage.Bolt11MintPayload:
		resp.Request = p.PaymentRequest
	case *storage.Bolt11MeltPayload:
		resp.Request = p.PaymentRequest
	case *storage.OnchainMintPayload:
		resp.Address = p.Address
	case *storage.OnchainMeltPayload:
		resp.Address = p.Address
	}
	return resp
}
