// Package mint implements the mint engine: quote issuance and
// settlement across the bolt11, btconchain and bitcredit rails,
// keyset management, and the swap operation, all built on top of
// storage.MintDB and settlement.Adapter.
package mint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/crypto"
	"github.com/coinshelf/mint/mint/settlement"
	"github.com/coinshelf/mint/mint/settlement/bitcredit"
	"github.com/coinshelf/mint/mint/settlement/lightning"
	"github.com/coinshelf/mint/mint/settlement/onchain"
	"github.com/coinshelf/mint/mint/storage"
)

// satDerivationPath is the derivation label (an HMAC input, see
// crypto.DeriveKeypair) the mint's own primary sat keyset is derived
// under. btconchain receive addresses use the HD path m/0'/2' under a
// separate on-chain master key; bitcredit keysets use the label
// m/0'/1'/0' under a per-bill secret that billKeyset computes from this
// master secret and the bill id.
const (
	satDerivationPath = "m/0'/0'/0'"
	onchainPath       = "m/0'/2'"
)

// mintQuoteExpiry is how far in the future a freshly issued mint quote
// expires, fixed across every method.
const mintQuoteExpiry = 30 * time.Minute

// onchainAdapter and bitcreditChecker narrow *onchain.Adapter and
// *bitcredit.Adapter down to the methods the engine actually calls, the
// same way settlement.Adapter stands in for the lightning backend.
// Tests satisfy them with onchain.FakeAdapter and bitcredit.FakeAdapter
// instead of a real bitcoind or bitcredit node.
type onchainAdapter interface {
	NewAddress(index uint32) (string, error)
	AddressStatus(ctx context.Context, address string) (onchain.AddressStatus, error)
	Send(ctx context.Context, destination string, amountSat uint64) (string, error)
}

type bitcreditChecker interface {
	CheckBill(ctx context.Context, nodeId, billId string) (bitcredit.BillStatus, error)
}

type Mint struct {
	db storage.MintDB

	keysets       map[string]*crypto.MintKeyset
	activeKeysets map[string]*crypto.MintKeyset // unit -> active keyset
	billKeysets   map[string]*crypto.MintKeyset // billId -> cached per-bill keyset
	// billNodeIds and keysetBillIds are in-memory caches filled in by
	// billKeyset, which runs when MintTokens is called on a bitcredit
	// quote. Per-bill keysets are not reloaded at startup, so after a
	// restart a proof from a bill keyset is rejected as an unknown
	// keyset until billKeyset runs for that bill again.
	billNodeIds   map[string]string
	keysetBillIds map[string]string
	keysetsMu     sync.Mutex

	lightning settlement.Adapter
	onchain   onchainAdapter
	bitcredit bitcreditChecker

	limits MintLimits
	fee    FeeConfig
	info   MintInfo

	masterSecret []byte

	logger *slog.Logger
}

// LoadMint wires together storage, every settlement backend the
// process has credentials for, and the mint's own keysets, rotating in
// a fresh active keyset for the sat unit if none exists yet.
func LoadMint(config Config, db storage.MintDB) (*Mint, error) {
	if err := os.MkdirAll(config.MintPath, 0700); err != nil {
		return nil, fmt.Errorf("creating mint directory: %w", err)
	}

	logger, err := setupLogger(config.MintPath, config.LogLevel)
	if err != nil {
		return nil, err
	}

	masterSecret := sha256.Sum256([]byte(config.PrivateKey))

	mint := &Mint{
		db:            db,
		keysets:       make(map[string]*crypto.MintKeyset),
		activeKeysets: make(map[string]*crypto.MintKeyset),
		billKeysets:   make(map[string]*crypto.MintKeyset),
		billNodeIds:   make(map[string]string),
		keysetBillIds: make(map[string]string),
		limits:        config.Limits,
		fee:           config.Fee,
		info:          config.MintInfo,
		masterSecret:  masterSecret[:],
		logger:        logger,
	}

	if err := mint.initKeysets(); err != nil {
		return nil, err
	}

	lightningBackend, err := lightningSetupBackend()
	switch {
	case err == nil:
		mint.lightning = lightningBackend
	default:
		mint.logErrorf("lightning backend unavailable: %v", err)
	}

	if master, params, ok := onchainCredentials(); ok {
		adapter, err := onchain.NewAdapter(master, params)
		if err != nil {
			mint.logErrorf("on-chain backend unavailable: %v", err)
		} else {
			mint.onchain = adapter
		}
	}

	if adapter, err := bitcredit.NewAdapter(); err == nil {
		mint.bitcredit = adapter
	} else {
		mint.logErrorf("bitcredit node unavailable: %v", err)
	}

	return mint, nil
}

// lightningSetupBackend is a thin indirection over
// lightning.SetupBackend so tests can swap it; kept as a package-level
// var rather than an interface method since selection is a one-time,
// process-wide decision driven entirely by environment variables.
var lightningSetupBackend = lightning.SetupBackend

func onchainCredentials() (*hdkeychain.ExtendedKey, *chaincfg.Params, bool) {
	seed, ok := os.LookupEnv("ONCHAIN_MASTER_SEED")
	if !ok || seed == "" {
		return nil, nil, false
	}
	master, err := hdkeychain.NewMaster([]byte(seed), &chaincfg.MainNetParams)
	if err != nil {
		return nil, nil, false
	}
	return master, &chaincfg.MainNetParams, true
}

func (m *Mint) initKeysets() error {
	dbKeysets, err := m.db.GetKeysets()
	if err != nil {
		return fmt.Errorf("loading keysets: %w", err)
	}

	if len(dbKeysets) == 0 {
		keyset := crypto.GenerateKeyset(m.masterSecret, satDerivationPath, cashu.Sat.String())
		if err := m.db.SaveKeyset(storage.DBKeyset{
			Id:             keyset.Id,
			Unit:           keyset.Unit,
			Active:         true,
			DerivationPath: satDerivationPath,
		}); err != nil {
			return fmt.Errorf("persisting initial keyset: %w", err)
		}
		m.keysets[keyset.Id] = keyset
		m.activeKeysets[keyset.Unit] = keyset
		return nil
	}

	for _, dbKeyset := range dbKeysets {
		if dbKeyset.BillId != "" {
			// Per-bill keysets are derived by billKeyset when tokens
			// are minted against that bill's quote, not eagerly at
			// startup.
			continue
		}
		keyset := crypto.GenerateKeyset(m.masterSecret, dbKeyset.DerivationPath, dbKeyset.Unit)
		keyset.Active = dbKeyset.Active
		m.keysets[keyset.Id] = keyset
		if dbKeyset.Active {
			m.activeKeysets[dbKeyset.Unit] = keyset
		}
	}
	return nil
}

// billKeyset returns the per-bill keyset a bitcredit quote mints
// under before its bill matures, deriving and persisting it on first
// use and serving the cached copy afterward. The derivation path is
// shared by every bill; what makes the keyset unique to the bill is
// the secret it's mixed with. nodeId is cached alongside it so a
// later swap touching this keyset can ask the same bitcredit node
// whether the bill has matured.
func (m *Mint) billKeyset(billId, nodeId string) *crypto.MintKeyset {
	m.keysetsMu.Lock()
	defer m.keysetsMu.Unlock()

	if keyset, ok := m.billKeysets[billId]; ok {
		if nodeId != "" {
			m.billNodeIds[billId] = nodeId
		}
		return keyset
	}

	billSecret := sha256.Sum256(append(append([]byte{}, m.masterSecret...), []byte("bitcredit-bill/"+billId)...))
	keyset := crypto.GenerateKeyset(billSecret[:], "m/0'/1'/0'", cashu.Crsat.String())
	m.billKeysets[billId] = keyset
	m.keysets[keyset.Id] = keyset
	m.keysetBillIds[keyset.Id] = billId
	if nodeId != "" {
		m.billNodeIds[billId] = nodeId
	}
	_ = m.db.SaveKeyset(storage.DBKeyset{
		Id:     keyset.Id,
		Unit:   keyset.Unit,
		Active: true,
		BillId: billId,
	})
	return keyset
}

// billMaturity reports whether keysetId is a per-bill bitcredit keyset
// and, if so, whether that bill has matured according to the
// bitcredit node that issued it. ok is false for any keyset that
// isn't a cached bitcredit bill keyset.
func (m *Mint) billMaturity(ctx context.Context, keysetId string) (matured bool, ok bool, err error) {
	billId, ok := m.keysetBillIds[keysetId]
	if !ok {
		return false, false, nil
	}
	nodeId, ok := m.billNodeIds[billId]
	if !ok || m.bitcredit == nil {
		return false, true, nil
	}
	status, err := m.bitcredit.CheckBill(ctx, nodeId, billId)
	if err != nil {
		return false, true, fmt.Errorf("checking bill maturity: %w", err)
	}
	return nowUnix() >= status.MaturityDate, true, nil
}

func (m *Mint) GetActiveKeyset(unit string) (*crypto.MintKeyset, bool) {
	keyset, ok := m.activeKeysets[unit]
	return keyset, ok
}

func (m *Mint) Keysets() map[string]*crypto.MintKeyset {
	return m.keysets
}

func (m *Mint) RetrieveMintInfo() MintInfo {
	return m.info
}

// setupLogger builds a *slog.Logger that writes to both stdout and a
// log file under mintPath, trimming source paths to their base name
// and truncating timestamps the way the rest of this codebase's log
// lines do.
func setupLogger(mintPath string, logLevel LogLevel) (*slog.Logger, error) {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(time.Now().Truncate(time.Second * 2).Format(time.DateTime))
		}
		return a
	}

	logFile, err := os.OpenFile(filepath.Join(mintPath, "mint.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	logWriter := io.MultiWriter(os.Stdout, logFile)
	level := slog.LevelInfo
	switch logLevel {
	case Debug:
		level = slog.LevelDebug
	case Disable:
		logWriter = io.Discard
	}

	handler := slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: replacer,
	})
	return slog.New(handler), nil
}

func (m *Mint) logInfof(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logErrorf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelError, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logDebugf(format string, args ...any) {
	if !m.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelDebug, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

// signBlindedMessages signs each message under its keyset's key for
// that denomination. Every message must name a keyset this mint holds
// and an amount that keyset is currently active for; a request mixing
// in a retired keyset's id is rejected rather than silently signed.
func (m *Mint) signBlindedMessages(blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	sigs := make(cashu.BlindedSignatures, len(blindedMessages))

	for i, msg := range blindedMessages {
		keyset, ok := m.keysets[msg.KeysetId]
		if !ok {
			return nil, cashu.UnknownKeysetErr
		}
		if !keyset.Active {
			return nil, cashu.InactiveKeysetSignatureRequest
		}
		kp, ok := keyset.AmountKey(msg.Amount)
		if !ok {
			return nil, cashu.InvalidBlindedMessageAmount
		}

		B_, err := decodePublicKey(msg.B_)
		if err != nil {
			return nil, cashu.BuildCashuError(err.Error(), cashu.StandardErrCode)
		}

		C_ := crypto.SignBlindedMessage(B_, kp.PrivateKey)
		sigs[i] = cashu.BlindedSignature{
			Amount:   msg.Amount,
			C_:       hex.EncodeToString(C_.SerializeCompressed()),
			KeysetId: keyset.Id,
		}
	}

	return sigs, nil
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func decodePublicKey(hexKey string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	return secp256k1.ParsePubKey(b)
}
