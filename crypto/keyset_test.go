package crypto

import (
	"encoding/hex"
	"testing"
)

// Vectors computed independently for master secret "mytestsecret",
// derivation path "sat" via the HMAC-SHA256 construction this package
// implements (same throwaway script used for the BDHKE vectors).
func TestDeriveKeypair(t *testing.T) {
	master := []byte("mytestsecret")
	path := "sat"

	tests := []struct {
		i        uint32
		expected string
	}{
		{0, "0335c1e71375906d3f4dd264a27b01b58a94838e23751f64a95242130567dcbe87"},
		{1, "03ad601952e5d87b7cdcff6437aaac281b2b860eda2dea154f355eeed5b84ca280"},
		{2, "03aa7923424674494c2d8a3016d41738e46b5130a6ad10801c9d74882869008750"},
	}

	for _, test := range tests {
		kp := DeriveKeypair(master, path, test.i)
		got := hex.EncodeToString(kp.PublicKey.SerializeCompressed())
		if got != test.expected {
			t.Errorf("i=%d: expected '%v' but got '%v'", test.i, test.expected, got)
		}
	}
}

func TestDeriveKeypairDeterministic(t *testing.T) {
	master := []byte("another-seed")
	a := DeriveKeypair(master, "sat", 5)
	b := DeriveKeypair(master, "sat", 5)

	aHex := hex.EncodeToString(a.PublicKey.SerializeCompressed())
	bHex := hex.EncodeToString(b.PublicKey.SerializeCompressed())
	if aHex != bHex {
		t.Fatal("same master/path/index must derive the same keypair every time")
	}
}

func TestGenerateKeysetHasAllDenominations(t *testing.T) {
	ks := GenerateKeyset([]byte("mytestsecret"), "sat", "sat")

	if len(ks.Keys) != MaxOrder {
		t.Fatalf("expected %d denominations, got %d", MaxOrder, len(ks.Keys))
	}
	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << uint(i)
		if _, ok := ks.Keys[amount]; !ok {
			t.Errorf("missing key for denomination %d", amount)
		}
	}
}

func TestKeysetIdMatchesVector(t *testing.T) {
	ks := GenerateKeyset([]byte("mytestsecret"), "sat", "sat")
	expected := "534a206a362e4d87"
	if ks.Id != expected {
		t.Errorf("expected keyset id '%v' but got '%v'", expected, ks.Id)
	}
	if len(ks.Id) != 16 {
		t.Errorf("keyset id must be 16 hex chars, got %d", len(ks.Id))
	}
}

func TestKeysetIdIsPureFunctionOfPubkeys(t *testing.T) {
	ks1 := GenerateKeyset([]byte("seed-a"), "sat", "sat")
	ks2 := GenerateKeyset([]byte("seed-a"), "sat", "sat")
	if ks1.Id != ks2.Id {
		t.Fatal("identical pubkeys must produce identical keyset ids")
	}

	ks3 := GenerateKeyset([]byte("seed-b"), "sat", "sat")
	if ks1.Id == ks3.Id {
		t.Fatal("different pubkeys must produce different keyset ids")
	}

	// rebuild the id directly from the pubkeys map, independent of
	// GenerateKeyset's own bookkeeping, to confirm the id is a pure
	// function of the map contents.
	recomputed := DeriveKeysetId(ks1.PublicKeys())
	if recomputed != ks1.Id {
		t.Fatal("DeriveKeysetId(ks.PublicKeys()) must equal ks.Id")
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, amount := range []uint64{1, 2, 4, 8, 16, 1 << 63} {
		if !IsPowerOfTwo(amount) {
			t.Errorf("%d should be a power of two", amount)
		}
	}
	for _, amount := range []uint64{0, 3, 5, 6, 7, 9} {
		if IsPowerOfTwo(amount) {
			t.Errorf("%d should not be a power of two", amount)
		}
	}
}
