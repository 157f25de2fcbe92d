// Package onchain implements the on-chain Bitcoin settlement rail: a
// quote is backed by a freshly derived receive address, and payment is
// detected by polling a watch-only wallet for confirmations, rather
// than a single payable invoice string.
package onchain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"

	"github.com/coinshelf/mint/mint/settlement"
)

const (
	HostEnv = "BITCOIND_RPC_HOST"
	UserEnv = "BITCOIND_RPC_USER"
	PassEnv = "BITCOIND_RPC_PASS"

	// RequiredConfirmations is how many confirmations a receive
	// transaction needs before the quote is considered paid.
	RequiredConfirmations = 1
)

// Adapter settles quotes against a watch-only bitcoind wallet. It does
// not implement settlement.Adapter directly: on-chain payment is
// address-based rather than invoice-based, so the mint engine calls
// NewAddress/AddressStatus instead of CreateInvoice/IsInvoicePaid.
type Adapter struct {
	rpc    *rpcclient.Client
	master *hdkeychain.ExtendedKey
	params *chaincfg.Params
}

func NewAdapter(master *hdkeychain.ExtendedKey, params *chaincfg.Params) (*Adapter, error) {
	host := os.Getenv(HostEnv)
	if host == "" {
		return nil, errors.New(HostEnv + " cannot be empty")
	}
	user := os.Getenv(UserEnv)
	pass := os.Getenv(PassEnv)

	connCfg := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("onchain: connecting to bitcoind: %w", err)
	}
	if _, err := client.GetBlockCount(); err != nil {
		client.Shutdown()
		return nil, fmt.Errorf("onchain: verifying bitcoind connection: %w", err)
	}

	return &Adapter{rpc: client, master: master, params: params}, nil
}

func (a *Adapter) Close() error {
	a.rpc.Shutdown()
	return nil
}

// deriveAddressPath derives m/0'/2'/index' under master, the on-chain
// master key that LoadMint builds from ONCHAIN_MASTER_SEED, separate
// from the secret the mint's keysets are derived from.
func deriveAddressPath(master *hdkeychain.ExtendedKey, index uint32) (*hdkeychain.ExtendedKey, error) {
	child, err := master.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, err
	}
	chainPath, err := child.Derive(hdkeychain.HardenedKeyStart + 2)
	if err != nil {
		return nil, err
	}
	return chainPath.Derive(hdkeychain.HardenedKeyStart + index)
}

// NewAddress derives and returns a fresh receive address at index,
// importing it into bitcoind as watch-only so ListUnspent/GetBalance
// calls can see funds sent to it.
func (a *Adapter) NewAddress(index uint32) (string, error) {
	key, err := deriveAddressPath(a.master, index)
	if err != nil {
		return "", fmt.Errorf("onchain: deriving address key: %w", err)
	}

	pubKey, err := key.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("onchain: deriving public key: %w", err)
	}

	witnessProg := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(witnessProg, a.params)
	if err != nil {
		return "", fmt.Errorf("onchain: encoding address: %w", err)
	}

	if err := a.rpc.ImportAddressRescan(addr.EncodeAddress(), "mint-quote-"+strconv.FormatUint(uint64(index), 10), false); err != nil {
		return "", fmt.Errorf("onchain: importing watch-only address: %w", err)
	}

	return addr.EncodeAddress(), nil
}

// AddressStatus reports the confirmed balance received at address and
// whether it has reached RequiredConfirmations.
type AddressStatus struct {
	AmountSat     uint64
	Confirmed     bool
	TxID          string
	Confirmations int64
}

func (a *Adapter) AddressStatus(ctx context.Context, address string) (AddressStatus, error) {
	decoded, err := btcutil.DecodeAddress(address, a.params)
	if err != nil {
		return AddressStatus{}, fmt.Errorf("onchain: invalid address: %w", err)
	}

	unspent, err := a.rpc.ListUnspentMinMaxAddresses(RequiredConfirmations, 9999999, []btcutil.Address{decoded})
	if err != nil {
		return AddressStatus{}, fmt.Errorf("%w: %v", settlement.ErrAdapterUnavailable, err)
	}

	var status AddressStatus
	var best *btcjson.ListUnspentResult
	for i := range unspent {
		utxo := &unspent[i]
		status.AmountSat += uint64(utxo.Amount * 1e8)
		if best == nil || utxo.Confirmations > best.Confirmations {
			best = utxo
		}
	}
	if best != nil {
		status.TxID = best.TxID
		status.Confirmations = best.Confirmations
		status.Confirmed = best.Confirmations >= RequiredConfirmations
	}

	return status, nil
}

// Send pays amountSat to destination from the wallet's funds, the
// settlement step for a bitcredit-to-onchain or sat-to-onchain melt.
func (a *Adapter) Send(ctx context.Context, destination string, amountSat uint64) (string, error) {
	addr, err := btcutil.DecodeAddress(destination, a.params)
	if err != nil {
		return "", fmt.Errorf("onchain: invalid destination address: %w", err)
	}

	amount := btcutil.Amount(amountSat)
	txHash, err := a.rpc.SendToAddress(addr, amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", settlement.ErrPaymentFailed, err)
	}

	return hex.EncodeToString(txHash[:]), nil
}
