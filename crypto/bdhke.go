// Package crypto implements the cryptographic core of the mint: the
// blind Diffie-Hellman key exchange (BDHKE) primitive and deterministic
// keyset derivation, both over secp256k1.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// domainSeparator prefixes every hash-to-curve message so that the
// construction cannot be confused with hashing used elsewhere in the
// protocol.
const domainSeparator = "Secp256k1_HashToCurve_Cashu_"

// maxHashToCurveCounter bounds the otherwise unbounded search for a
// valid curve point. Exceeding it indicates the hash function has
// diverged from the curve for an implausible number of consecutive
// attempts and is treated as a hard failure rather than looped on
// forever.
const maxHashToCurveCounter = 1 << 16

var (
	ErrInvalidPoint        = errors.New("crypto: point is not on the curve")
	ErrHashToCurveDiverged = errors.New("crypto: hash-to-curve did not converge")
	ErrInvalidSignature    = errors.New("crypto: signature verification failed")
)

// HashToCurve maps an arbitrary secret to a point on secp256k1 using the
// domain-separated iterative construction: hash domain_sep || secret
// once, then repeatedly hash that digest with an incrementing
// little-endian u32 counter until the result decodes as a valid
// compressed x-coordinate.
func HashToCurve(secret []byte) (*secp256k1.PublicKey, error) {
	msgHash := sha256.Sum256(append([]byte(domainSeparator), secret...))

	var counterBytes [4]byte
	for counter := uint32(0); counter < maxHashToCurveCounter; counter++ {
		binary.LittleEndian.PutUint32(counterBytes[:], counter)
		candidate := sha256.Sum256(append(msgHash[:], counterBytes[:]...))

		prefixed := append([]byte{0x02}, candidate[:]...)
		point, err := secp256k1.ParsePubKey(prefixed)
		if err == nil {
			return point, nil
		}
	}

	return nil, ErrHashToCurveDiverged
}

// BlindMessage computes B_ = Y + rG for a fresh secret and blinding
// factor r, returning the blinded point and the private scalar backing
// it so the caller can later unblind the mint's signature.
func BlindMessage(secret []byte, blindingFactor []byte) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	Y, err := HashToCurve(secret)
	if err != nil {
		return nil, nil, err
	}

	var yPoint, rPoint, blinded secp256k1.JacobianPoint
	Y.AsJacobian(&yPoint)

	r, rPub := btcec.PrivKeyFromBytes(blindingFactor)
	rPub.AsJacobian(&rPoint)

	secp256k1.AddNonConst(&yPoint, &rPoint, &blinded)
	blinded.ToAffine()
	B_ := secp256k1.NewPublicKey(&blinded.X, &blinded.Y)

	return B_, r, nil
}

// SignBlindedMessage computes C_ = k * B_, the mint's blind signature
// over a client-submitted blinded message.
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bPoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bPoint)

	secp256k1.ScalarMultNonConst(&k.Key, &bPoint, &result)
	result.ToAffine()
	return secp256k1.NewPublicKey(&result.X, &result.Y)
}

// UnblindSignature computes C = C_ - rK, recovering the final signature
// over the client's original (unblinded) secret.
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey, K *secp256k1.PublicKey) *secp256k1.PublicKey {
	var kPoint, rKPoint, cPoint, c_Point secp256k1.JacobianPoint
	K.AsJacobian(&kPoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)
	secp256k1.ScalarMultNonConst(&rNeg, &kPoint, &rKPoint)

	C_.AsJacobian(&c_Point)
	secp256k1.AddNonConst(&c_Point, &rKPoint, &cPoint)
	cPoint.ToAffine()

	return secp256k1.NewPublicKey(&cPoint.X, &cPoint.Y)
}

// Verify reports whether C == k * HashToCurve(secret), i.e. whether C
// is a valid mint signature over secret under private key k.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) (bool, error) {
	Y, err := HashToCurve(secret)
	if err != nil {
		return false, err
	}

	var yPoint, result secp256k1.JacobianPoint
	Y.AsJacobian(&yPoint)

	secp256k1.ScalarMultNonConst(&k.Key, &yPoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk), nil
}
