package mint

import (
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/crypto"
	"github.com/coinshelf/mint/mint/settlement/bitcredit"
	"github.com/coinshelf/mint/mint/settlement/lightning"
	"github.com/coinshelf/mint/mint/settlement/onchain"
	"github.com/coinshelf/mint/mint/storage/sqlite"
)

// newTestMint builds a *Mint wired to a real SQLite store under a
// temporary directory and in-memory fake settlement backends, the
// same trio of fakes the mint's own settlement packages ship for
// exactly this purpose. It skips LoadMint's env-driven backend
// selection entirely: each rail's fake is wired in directly so a test
// can drive it without touching the process environment.
func newTestMint(t *testing.T) (*Mint, *lightning.FakeBackend, *onchain.FakeAdapter, *bitcredit.FakeAdapter) {
	t.Helper()

	db, err := sqlite.InitSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("InitSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	lightningBackend := lightning.NewFakeBackend()
	onchainBackend := onchain.NewFakeAdapter()
	bitcreditBackend := bitcredit.NewFakeAdapter()

	m := &Mint{
		db:            db,
		keysets:       make(map[string]*crypto.MintKeyset),
		activeKeysets: make(map[string]*crypto.MintKeyset),
		billKeysets:   make(map[string]*crypto.MintKeyset),
		billNodeIds:   make(map[string]string),
		keysetBillIds: make(map[string]string),
		limits:        MintLimits{},
		fee:           FeeConfig{ReservePercent: 1.0, ReserveMinSat: 100},
		info:          MintInfo{Name: "test mint"},
		masterSecret:  []byte("test-master-secret"),
		lightning:     lightningBackend,
		onchain:       onchainBackend,
		bitcredit:     bitcreditBackend,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := m.initKeysets(); err != nil {
		t.Fatalf("initKeysets: %v", err)
	}

	return m, lightningBackend, onchainBackend, bitcreditBackend
}

// validProof builds a proof that verifies under keyset for amount,
// following the same blind/sign/unblind round trip crypto/bdhke_test.go
// exercises directly, so tests never need to poke at keyset private
// material themselves.
func validProof(t *testing.T, keyset *crypto.MintKeyset, secret string, amount uint64) cashu.Proof {
	t.Helper()

	blindingFactor := make([]byte, 32)
	blindingFactor[31] = 9

	B_, r, err := crypto.BlindMessage([]byte(secret), blindingFactor)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	kp, ok := keyset.AmountKey(amount)
	if !ok {
		t.Fatalf("keyset has no key for amount %d", amount)
	}
	C_ := crypto.SignBlindedMessage(B_, kp.PrivateKey)
	C := crypto.UnblindSignature(C_, r, kp.PublicKey)

	return cashu.Proof{
		Amount:   amount,
		Secret:   secret,
		C:        hex.EncodeToString(C.SerializeCompressed()),
		KeysetId: keyset.Id,
	}
}

// blindedMessage builds a fresh blinded message for amount under
// keyset, returning it alongside the blinding factor so a test can
// unblind the returned signature if it needs to.
func blindedMessage(t *testing.T, keyset *crypto.MintKeyset, secret string, amount uint64) (cashu.BlindedMessage, []byte) {
	t.Helper()

	blindingFactor := make([]byte, 32)
	blindingFactor[31] = 3

	B_, _, err := crypto.BlindMessage([]byte(secret), blindingFactor)
	if err != nil {
		t.Fatalf("BlindMessage: %v", err)
	}
	return cashu.NewBlindedMessage(keyset.Id, amount, B_), blindingFactor
}
