// Package cashu contains the core wire types and pure functions of the
// Cashu/BDHKE protocol shared by every mint operation: blinded
// messages and signatures, proofs, and amount decomposition.
package cashu

import (
	"encoding/hex"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var ErrAmountOverflows = errors.New("amount overflows uint64")

// Unit identifies the settlement currency a keyset, quote, or proof is
// denominated in.
type Unit int

const (
	Sat Unit = iota
	Crsat
	Btc
)

func (u Unit) String() string {
	switch u {
	case Sat:
		return "sat"
	case Crsat:
		return "crsat"
	case Btc:
		return "btc"
	default:
		return "unknown"
	}
}

func ParseUnit(s string) (Unit, bool) {
	switch s {
	case "sat":
		return Sat, true
	case "crsat":
		return Crsat, true
	case "btc":
		return Btc, true
	default:
		return 0, false
	}
}

// Method identifies the settlement rail a quote or operation targets.
type Method string

const (
	Bolt11    Method = "bolt11"
	Onchain   Method = "btconchain"
	Bitcredit Method = "bitcredit"
)

func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case Bolt11, Onchain, Bitcredit:
		return Method(s), true
	default:
		return "", false
	}
}

// BlindedMessage is a client's blinded commitment to a fresh secret,
// submitted for the mint to sign.
type BlindedMessage struct {
	Amount   uint64 `json:"amount"`
	B_       string `json:"B_"`
	KeysetId string `json:"id"`
}

func NewBlindedMessage(keysetId string, amount uint64, B_ *secp256k1.PublicKey) BlindedMessage {
	return BlindedMessage{
		Amount:   amount,
		B_:       hex.EncodeToString(B_.SerializeCompressed()),
		KeysetId: keysetId,
	}
}

type BlindedMessages []BlindedMessage

func (messages BlindedMessages) Amount() uint64 {
	var total uint64
	for _, m := range messages {
		total += m.Amount
	}
	return total
}

// AmountChecked sums the messages' amounts the same way Amount does but
// fails rather than wrapping if the sum overflows uint64, since a
// wrapped total could let a malicious request mint far less than it
// appears to ask for.
func (messages BlindedMessages) AmountChecked() (uint64, error) {
	var total uint64
	for _, m := range messages {
		sum, overflow := OverflowAddUint64(total, m.Amount)
		if overflow {
			return 0, ErrAmountOverflows
		}
		total = sum
	}
	return total, nil
}

// OverflowAddUint64 adds a and b, reporting via the second return value
// whether the sum overflowed uint64's range.
func OverflowAddUint64(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

func (messages BlindedMessages) BValues() []string {
	values := make([]string, len(messages))
	for i, m := range messages {
		values[i] = m.B_
	}
	return values
}

// BlindedSignature is the mint's signature over a BlindedMessage.
type BlindedSignature struct {
	Amount   uint64 `json:"amount"`
	C_       string `json:"C_"`
	KeysetId string `json:"id"`
}

type BlindedSignatures []BlindedSignature

func (sigs BlindedSignatures) Amount() uint64 {
	var total uint64
	for _, s := range sigs {
		total += s.Amount
	}
	return total
}

// Proof is an unblinded, redeemable bearer token.
type Proof struct {
	Amount   uint64 `json:"amount"`
	Secret   string `json:"secret"`
	C        string `json:"C"`
	KeysetId string `json:"id"`
}

type Proofs []Proof

func (proofs Proofs) Amount() uint64 {
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

func (proofs Proofs) Secrets() []string {
	secrets := make([]string, len(proofs))
	for i, p := range proofs {
		secrets[i] = p.Secret
	}
	return secrets
}

// CheckDuplicateProofs reports whether the same secret appears more
// than once in proofs, which would otherwise let a single spend
// attempt slip two copies of the same input past a set-based
// uniqueness check.
func CheckDuplicateProofs(proofs Proofs) bool {
	seen := make(map[string]struct{}, len(proofs))
	for _, p := range proofs {
		if _, ok := seen[p.Secret]; ok {
			return true
		}
		seen[p.Secret] = struct{}{}
	}
	return false
}

// QuoteState is the lifecycle state of a mint or melt quote.
type QuoteState int

const (
	Unpaid QuoteState = iota
	Paid
	Pending
	Issued
	Unknown
)

func (s QuoteState) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Pending:
		return "PENDING"
	case Issued:
		return "ISSUED"
	default:
		return "UNKNOWN"
	}
}

func StringToQuoteState(s string) QuoteState {
	switch s {
	case "UNPAID":
		return Unpaid
	case "PAID":
		return Paid
	case "PENDING":
		return Pending
	case "ISSUED":
		return Issued
	default:
		return Unknown
	}
}

// AmountSplit decomposes amount into the unique ascending sequence of
// powers of two implied by its binary representation, e.g. 13 -> [1, 4, 8].
func AmountSplit(amount uint64) []uint64 {
	split := make([]uint64, 0)
	for position := 0; amount > 0; position++ {
		if amount&1 == 1 {
			split = append(split, uint64(1)<<uint(position))
		}
		amount >>= 1
	}
	return split
}

// AmountMerge is the inverse of AmountSplit: the total value represented
// by a list of denominations.
func AmountMerge(amounts []uint64) uint64 {
	var total uint64
	for _, a := range amounts {
		total += a
	}
	return total
}

// AllPowersOfTwo reports whether every blinded message's amount is a
// valid denomination (a power of two).
func (messages BlindedMessages) AllPowersOfTwo() bool {
	for _, m := range messages {
		if !isPowerOfTwo(m.Amount) {
			return false
		}
	}
	return true
}

func isPowerOfTwo(amount uint64) bool {
	return amount != 0 && amount&(amount-1) == 0
}
