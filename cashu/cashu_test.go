package cashu

import (
	"math"
	"reflect"
	"testing"
)

func TestAmountSplit(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected []uint64
	}{
		{0, []uint64{}},
		{1, []uint64{1}},
		{13, []uint64{1, 4, 8}},
		{255, []uint64{1, 2, 4, 8, 16, 32, 64, 128}},
		{1 << 10, []uint64{1 << 10}},
	}

	for _, test := range tests {
		got := AmountSplit(test.amount)
		if !reflect.DeepEqual(got, test.expected) {
			t.Errorf("AmountSplit(%d): expected %v but got %v", test.amount, test.expected, got)
		}
	}
}

func TestAmountMergeIsSplitInverse(t *testing.T) {
	for _, amount := range []uint64{0, 1, 13, 255, 1000, 1 << 20} {
		split := AmountSplit(amount)
		if merged := AmountMerge(split); merged != amount {
			t.Errorf("AmountMerge(AmountSplit(%d)) = %d, want %d", amount, merged, amount)
		}
	}
}

func TestAmountChecked(t *testing.T) {
	split := AmountSplit(math.MaxUint64)
	overflowBlindedMessages := make(BlindedMessages, len(split)+1)
	for i, amount := range split {
		overflowBlindedMessages[i] = BlindedMessage{Amount: amount}
	}
	overflowBlindedMessages[len(split)] = BlindedMessage{Amount: 4}

	tests := []struct {
		blindedMessages BlindedMessages
		expectedAmount  uint64
		expectedErr     error
	}{
		{
			blindedMessages: BlindedMessages{
				BlindedMessage{Amount: 2},
				BlindedMessage{Amount: 4},
				BlindedMessage{Amount: 8},
				BlindedMessage{Amount: 64},
			},
			expectedAmount: 78,
			expectedErr:    nil,
		},
		{
			blindedMessages: overflowBlindedMessages,
			expectedAmount:  0,
			expectedErr:     ErrAmountOverflows,
		},
	}

	for _, test := range tests {
		totalAmount, err := test.blindedMessages.AmountChecked()
		if totalAmount != test.expectedAmount {
			t.Fatalf("expected total amount of '%v' but got '%v'", test.expectedAmount, totalAmount)
		}
		if err != test.expectedErr {
			t.Fatalf("expected error '%v' but got '%v'", test.expectedErr, err)
		}
	}
}

func TestOverflowAddUint64(t *testing.T) {
	tests := []struct {
		a                uint64
		b                uint64
		expectedUint64   uint64
		expectedOverflow bool
	}{
		{a: 21, b: 42, expectedUint64: 63, expectedOverflow: false},
		{a: math.MaxUint64 - 5, b: 10, expectedUint64: 4, expectedOverflow: true},
		{a: 0, b: 0, expectedUint64: 0, expectedOverflow: false},
	}

	for _, test := range tests {
		result, overflow := OverflowAddUint64(test.a, test.b)
		if overflow != test.expectedOverflow {
			t.Fatalf("a=%d b=%d: expected overflow=%v but got %v", test.a, test.b, test.expectedOverflow, overflow)
		}
		if !overflow && result != test.expectedUint64 {
			t.Fatalf("a=%d b=%d: expected result '%v' but got '%v'", test.a, test.b, test.expectedUint64, result)
		}
	}
}

func TestCheckDuplicateProofs(t *testing.T) {
	unique := Proofs{
		{Amount: 1, Secret: "a"},
		{Amount: 2, Secret: "b"},
	}
	if CheckDuplicateProofs(unique) {
		t.Error("expected no duplicates")
	}

	duplicated := Proofs{
		{Amount: 1, Secret: "a"},
		{Amount: 2, Secret: "a"},
	}
	if !CheckDuplicateProofs(duplicated) {
		t.Error("expected duplicate secrets to be detected")
	}
}

func TestProofsAmount(t *testing.T) {
	proofs := Proofs{
		{Amount: 1},
		{Amount: 4},
		{Amount: 8},
	}
	if proofs.Amount() != 13 {
		t.Errorf("expected 13, got %d", proofs.Amount())
	}
}

func TestQuoteStateRoundTrip(t *testing.T) {
	states := []QuoteState{Unpaid, Paid, Pending, Issued}
	for _, s := range states {
		if got := StringToQuoteState(s.String()); got != s {
			t.Errorf("round trip failed for %v: got %v", s, got)
		}
	}

	if StringToQuoteState("not-a-state") != Unknown {
		t.Error("expected unrecognized state string to map to Unknown")
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		input   string
		wantOk  bool
		wantVal Method
	}{
		{"bolt11", true, Bolt11},
		{"btconchain", true, Onchain},
		{"bitcredit", true, Bitcredit},
		{"carrier-pigeon", false, ""},
	}

	for _, test := range tests {
		got, ok := ParseMethod(test.input)
		if ok != test.wantOk || got != test.wantVal {
			t.Errorf("ParseMethod(%q) = (%v, %v), want (%v, %v)", test.input, got, ok, test.wantVal, test.wantOk)
		}
	}
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		input  string
		wantOk bool
		want   Unit
	}{
		{"sat", true, Sat},
		{"crsat", true, Crsat},
		{"btc", true, Btc},
		{"usd", false, 0},
	}

	for _, test := range tests {
		got, ok := ParseUnit(test.input)
		if ok != test.wantOk || (ok && got != test.want) {
			t.Errorf("ParseUnit(%q) = (%v, %v), want (%v, %v)", test.input, got, ok, test.want, test.wantOk)
		}
	}
}

func TestBuildCashuError(t *testing.T) {
	err := BuildCashuError("invalid proof", InvalidProofErrCode)
	if err.Error() != "invalid proof" {
		t.Errorf("expected Error() to return detail, got %q", err.Error())
	}
	if err.Code != InvalidProofErrCode {
		t.Errorf("expected code %v, got %v", InvalidProofErrCode, err.Code)
	}
}
