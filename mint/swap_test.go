package mint

import (
	"context"
	"testing"

	"github.com/coinshelf/mint/cashu"
)

func TestSwapHappyPath(t *testing.T) {
	m, _, _, _ := newTestMint(t)
	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())

	proof := validProof(t, satKeyset, "swap-secret-1", 8)
	out, _ := blindedMessage(t, satKeyset, "swap-output-1", 8)

	sigs, err := m.Swap(context.Background(), cashu.Proofs{proof}, cashu.BlindedMessages{out})
	if err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if len(sigs) != 1 || sigs[0].Amount != 8 {
		t.Fatalf("unexpected signatures: %+v", sigs)
	}
}

func TestSwapRejectsSpentProof(t *testing.T) {
	m, _, _, _ := newTestMint(t)
	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())

	proof := validProof(t, satKeyset, "swap-secret-2", 4)
	out1, _ := blindedMessage(t, satKeyset, "swap-output-2a", 4)
	out2, _ := blindedMessage(t, satKeyset, "swap-output-2b", 4)

	if _, err := m.Swap(context.Background(), cashu.Proofs{proof}, cashu.BlindedMessages{out1}); err != nil {
		t.Fatalf("first Swap: %v", err)
	}

	_, err := m.Swap(context.Background(), cashu.Proofs{proof}, cashu.BlindedMessages{out2})
	if err != cashu.ProofAlreadyUsedErr {
		t.Fatalf("expected ProofAlreadyUsedErr, got %v", err)
	}
}

func TestSwapRejectsDuplicateProofsInRequest(t *testing.T) {
	m, _, _, _ := newTestMint(t)
	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())

	proof := validProof(t, satKeyset, "swap-secret-dup", 2)
	out, _ := blindedMessage(t, satKeyset, "swap-output-dup", 4)

	_, err := m.Swap(context.Background(), cashu.Proofs{proof, proof}, cashu.BlindedMessages{out})
	if err != cashu.DuplicateProofs {
		t.Fatalf("expected DuplicateProofs, got %v", err)
	}
}

func TestSwapRejectsAmountMismatch(t *testing.T) {
	m, _, _, _ := newTestMint(t)
	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())

	proof := validProof(t, satKeyset, "swap-secret-3", 8)
	out, _ := blindedMessage(t, satKeyset, "swap-output-3", 4)

	_, err := m.Swap(context.Background(), cashu.Proofs{proof}, cashu.BlindedMessages{out})
	if err != cashu.InsufficientProofsAmount {
		t.Fatalf("expected InsufficientProofsAmount, got %v", err)
	}
}

func TestSwapRejectsInvalidProof(t *testing.T) {
	m, _, _, _ := newTestMint(t)
	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())

	proof := validProof(t, satKeyset, "swap-secret-4", 8)
	proof.C = proof.C[:len(proof.C)-2] + "00" // corrupt the signature
	out, _ := blindedMessage(t, satKeyset, "swap-output-4", 8)

	_, err := m.Swap(context.Background(), cashu.Proofs{proof}, cashu.BlindedMessages{out})
	if err != cashu.InvalidProofErr {
		t.Fatalf("expected InvalidProofErr, got %v", err)
	}
}

func TestSwapBitcreditMaturedProofMustLeaveBillKeyset(t *testing.T) {
	m, _, _, bitcreditBackend := newTestMint(t)
	bitcreditBackend.RegisterBill("node-3", "bill-3", nowUnix()-10) // already matured

	billKeyset := m.billKeyset("bill-3", "node-3")
	proof := validProof(t, billKeyset, "bitcredit-swap-secret", 16)

	satKeyset, _ := m.GetActiveKeyset(cashu.Sat.String())
	wrongOut, _ := blindedMessage(t, billKeyset, "bitcredit-swap-wrong-out", 16)
	if _, err := m.Swap(context.Background(), cashu.Proofs{proof}, cashu.BlindedMessages{wrongOut}); err == nil {
		t.Fatal("expected an error swapping a matured bill proof into its own keyset")
	}

	rightOut, _ := blindedMessage(t, satKeyset, "bitcredit-swap-right-out", 16)
	sigs, err := m.Swap(context.Background(), cashu.Proofs{proof}, cashu.BlindedMessages{rightOut})
	if err != nil {
		t.Fatalf("Swap to the sat keyset after maturity: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("expected one signature, got %d", len(sigs))
	}
}
