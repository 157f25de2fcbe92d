package onchain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

type fakeAddress struct {
	address       string
	amountSat     uint64
	confirmations int64
}

// FakeAdapter is an in-memory stand-in for Adapter used by tests in
// place of a real bitcoind watch-only wallet.
type FakeAdapter struct {
	addresses map[string]*fakeAddress
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{addresses: make(map[string]*fakeAddress)}
}

func (a *FakeAdapter) NewAddress(index uint32) (string, error) {
	var random [20]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", err
	}
	address := "bcrt1q" + hex.EncodeToString(random[:])
	a.addresses[address] = &fakeAddress{address: address}
	return address, nil
}

func (a *FakeAdapter) AddressStatus(ctx context.Context, address string) (AddressStatus, error) {
	fake, ok := a.addresses[address]
	if !ok {
		return AddressStatus{}, fmt.Errorf("onchain: unknown address %s", address)
	}
	return AddressStatus{
		AmountSat:     fake.amountSat,
		Confirmed:     fake.confirmations >= RequiredConfirmations,
		Confirmations: fake.confirmations,
	}, nil
}

// ReceiveFunds simulates amountSat landing on address with
// confirmations confirmations, the way a block notification would
// update a real watch-only wallet's UTXO set.
func (a *FakeAdapter) ReceiveFunds(address string, amountSat uint64, confirmations int64) error {
	fake, ok := a.addresses[address]
	if !ok {
		return fmt.Errorf("onchain: unknown address %s", address)
	}
	fake.amountSat = amountSat
	fake.confirmations = confirmations
	return nil
}

func (a *FakeAdapter) Send(ctx context.Context, destination string, amountSat uint64) (string, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(random[:]), nil
}
