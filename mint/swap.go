package mint

import (
	"context"
	"fmt"

	"github.com/coinshelf/mint/cashu"
	"github.com/coinshelf/mint/crypto"
	"github.com/coinshelf/mint/mint/storage"
)

// Swap verifies a set of input proofs, invalidates them, and signs a
// fresh set of blinded messages in their place, at zero fee. A proof
// drawn from a bitcredit bill keyset additionally gates which keyset
// the matching output may use: the bill's own keyset before the bill
// matures, or the mint's primary sat keyset, 1:1, at or after.
func (m *Mint) Swap(ctx context.Context, proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) (cashu.BlindedSignatures, error) {
	if len(proofs) == 0 {
		return nil, cashu.NoProofsProvided
	}
	if cashu.CheckDuplicateProofs(proofs) {
		return nil, cashu.DuplicateProofs
	}

	inputsAmount := proofs.Amount()
	outputsAmount, err := blindedMessages.AmountChecked()
	if err != nil {
		return nil, cashu.InvalidBlindedMessageAmount
	}
	if !blindedMessages.AllPowersOfTwo() {
		return nil, cashu.InvalidBlindedMessageAmount
	}

	// Swap and mint operations carry zero fee; only melt reserves one.
	if outputsAmount != inputsAmount {
		return nil, cashu.InsufficientProofsAmount
	}

	if err := m.verifyProofs(ctx, proofs); err != nil {
		return nil, err
	}
	if err := m.verifySwapKeysets(ctx, proofs, blindedMessages); err != nil {
		return nil, err
	}

	existing, err := m.db.GetIssuedSignatures(blindedMessages.BValues())
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("looking up issued signatures: %v", err), cashu.DBErrCode)
	}
	if len(existing) > 0 {
		return nil, cashu.BlindedMessageAlreadySigned
	}

	sigs, err := m.signBlindedMessages(blindedMessages)
	if err != nil {
		return nil, err
	}

	tx, err := m.db.Begin()
	if err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("opening transaction: %v", err), cashu.DBErrCode)
	}

	// Inputs are marked spent before outputs are marked issued: under a
	// concurrent retry of the identical swap, the input conflict is the
	// one that surfaces, not a spurious output conflict.
	spent := make([]storage.SpentSecret, len(proofs))
	for i, proof := range proofs {
		spent[i] = storage.SpentSecret{Secret: proof.Secret, Amount: proof.Amount, KeysetId: proof.KeysetId}
	}
	if conflict, err := m.db.CheckAndInsertSpent(tx, spent); err != nil {
		_ = tx.Rollback()
		return nil, cashu.BuildCashuError(fmt.Sprintf("inserting spent secrets: %v", err), cashu.DBErrCode)
	} else if conflict != "" {
		_ = tx.Rollback()
		return nil, cashu.ProofAlreadyUsedErr
	}

	issued := make([]storage.IssuedOutput, len(blindedMessages))
	for i, msg := range blindedMessages {
		issued[i] = storage.IssuedOutput{B_: msg.B_, Amount: msg.Amount, KeysetId: msg.KeysetId, C_: sigs[i].C_}
	}
	if conflict, err := m.db.CheckAndInsertIssued(tx, issued); err != nil {
		_ = tx.Rollback()
		return nil, cashu.BuildCashuError(fmt.Sprintf("inserting issued outputs: %v", err), cashu.DBErrCode)
	} else if conflict != "" {
		_ = tx.Rollback()
		return nil, cashu.OutputAlreadyIssuedErr
	}

	if err := tx.Commit(); err != nil {
		return nil, cashu.BuildCashuError(fmt.Sprintf("committing swap: %v", err), cashu.DBErrCode)
	}

	m.logInfof("swapped %d inputs for %d outputs totalling %d", len(proofs), len(blindedMessages), outputsAmount)
	return sigs, nil
}

// verifyProofs checks that every proof names a keyset this mint holds,
// active or not, and carries a valid BDHKE signature under it. Whether a proof has
// already been spent is decided atomically inside the transaction via
// CheckAndInsertSpent, not here: a pre-check here would only open a
// race between the check and the actual spend.
func (m *Mint) verifyProofs(ctx context.Context, proofs cashu.Proofs) error {
	for _, proof := range proofs {
		keyset, ok := m.keysets[proof.KeysetId]
		if !ok {
			return cashu.UnknownKeysetErr
		}
		kp, ok := keyset.AmountKey(proof.Amount)
		if !ok {
			return cashu.InvalidProofErr
		}

		C, err := decodePublicKey(proof.C)
		if err != nil {
			return cashu.InvalidProofErr
		}

		valid, err := crypto.Verify([]byte(proof.Secret), kp.PrivateKey, C)
		if err != nil || !valid {
			return cashu.InvalidProofErr
		}
	}
	return nil
}

// verifySwapKeysets enforces the bitcredit maturity gate: for any
// input drawn from a bill keyset, every output in the same request must
// use that bill's own keyset before the bill matures, and the mint's
// primary sat keyset at or after maturity.
func (m *Mint) verifySwapKeysets(ctx context.Context, proofs cashu.Proofs, blindedMessages cashu.BlindedMessages) error {
	satKeyset, hasSat := m.GetActiveKeyset(cashu.Sat.String())
	for _, proof := range proofs {
		matured, ok, err := m.billMaturity(ctx, proof.KeysetId)
		if err != nil {
			return cashu.BuildCashuError(err.Error(), cashu.SettlementErrCode)
		}
		if !ok {
			continue
		}
		// Before maturity, value drawn from a bill's keyset stays on that
		// keyset; once the bill has matured, it may only flow to the
		// primary sat keyset.
		for _, msg := range blindedMessages {
			switch {
			case !matured && msg.KeysetId != proof.KeysetId:
				return cashu.BuildCashuError("bill has not matured: outputs must use the bill's own keyset", cashu.BillNotMaturedErrCode)
			case matured && (!hasSat || msg.KeysetId != satKeyset.Id):
				return cashu.BuildCashuError("bill has matured: outputs must use the mint's sat keyset", cashu.BillNotMaturedErrCode)
			}
		}
	}
	return nil
}
