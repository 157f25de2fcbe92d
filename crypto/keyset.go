package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxOrder is the number of denominations a keyset holds: one keypair
// per power of two from 2^0 up to and including 2^(MaxOrder-1).
const MaxOrder = 64

// MintKeyset is the full set of per-denomination keypairs a mint signs
// with, plus the metadata describing it.
type MintKeyset struct {
	Id     string
	Unit   string
	Active bool
	Keys   map[uint64]KeyPair
}

type KeyPair struct {
	PrivateKey *secp256k1.PrivateKey
	PublicKey  *secp256k1.PublicKey
}

// PublicKeys maps denomination to public key only, the shape returned
// over the wire by GET /v1/keys.
type PublicKeys map[uint64]*secp256k1.PublicKey

// DeriveKeypair derives the private scalar for denomination 2^i under
// masterSecret and derivationPath using HMAC-SHA256, reducing the
// digest modulo the curve order. A zero scalar (astronomically
// unlikely) is bumped to one rather than used as-is, since a zero
// private key has no corresponding valid public key.
func DeriveKeypair(masterSecret []byte, derivationPath string, i uint32) KeyPair {
	mac := hmac.New(sha256.New, masterSecret)
	mac.Write([]byte(derivationPath))
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], i)
	mac.Write(idx[:])
	digest := mac.Sum(nil)

	var scalar secp256k1.ModNScalar
	scalar.SetByteSlice(digest)
	if scalar.IsZero() {
		scalar.SetInt(1)
	}

	scalarBytes := scalar.Bytes()
	priv := secp256k1.PrivKeyFromBytes(scalarBytes[:])
	return KeyPair{PrivateKey: priv, PublicKey: priv.PubKey()}
}

// GenerateKeyset derives a full MintKeyset (MaxOrder denominations) from
// masterSecret and derivationPath and computes its id.
func GenerateKeyset(masterSecret []byte, derivationPath string, unit string) *MintKeyset {
	keys := make(map[uint64]KeyPair, MaxOrder)
	pubkeys := make(PublicKeys, MaxOrder)

	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << uint(i)
		kp := DeriveKeypair(masterSecret, derivationPath, uint32(i))
		keys[amount] = kp
		pubkeys[amount] = kp.PublicKey
	}

	return &MintKeyset{
		Id:     DeriveKeysetId(pubkeys),
		Unit:   unit,
		Active: true,
		Keys:   keys,
	}
}

// DeriveKeysetId computes the 16 hex character keyset id: sort the
// (amount, pubkey) pairs ascending by amount, concatenate the
// compressed pubkeys, SHA-256 the result, and hex-encode the first 8
// bytes. The id is a pure function of the pubkeys map: permuting
// iteration order never changes it, and any change to any key changes
// it.
func DeriveKeysetId(pubkeys PublicKeys) string {
	type entry struct {
		amount uint64
		pk     *secp256k1.PublicKey
	}

	entries := make([]entry, 0, len(pubkeys))
	for amount, pk := range pubkeys {
		entries = append(entries, entry{amount, pk})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].amount < entries[j].amount })

	concatenated := make([]byte, 0, len(entries)*33)
	for _, e := range entries {
		concatenated = append(concatenated, e.pk.SerializeCompressed()...)
	}
	digest := sha256.Sum256(concatenated)
	return hex.EncodeToString(digest[:8])
}

// PublicKeys returns the public half of every keypair in the keyset.
func (ks *MintKeyset) PublicKeys() PublicKeys {
	pubkeys := make(PublicKeys, len(ks.Keys))
	for amount, kp := range ks.Keys {
		pubkeys[amount] = kp.PublicKey
	}
	return pubkeys
}

// AmountKey looks up the keypair for a denomination, reporting whether
// amount is a power of two the keyset actually holds a key for.
func (ks *MintKeyset) AmountKey(amount uint64) (KeyPair, bool) {
	kp, ok := ks.Keys[amount]
	return kp, ok
}

// IsPowerOfTwo reports whether amount is exactly 2^n for some n, the
// only shape a denomination the mint signs may take.
func IsPowerOfTwo(amount uint64) bool {
	return amount != 0 && amount&(amount-1) == 0
}

func (kp KeyPair) String() string {
	return fmt.Sprintf("KeyPair{pub=%s}", hex.EncodeToString(kp.PublicKey.SerializeCompressed()))
}
