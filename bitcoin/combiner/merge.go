// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package combiner

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/signer"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
	"github.com/BoostyLabs/coinjoin/internal/sequencereader"
)

// Merge combines two copies of the same PSBT into new one, arguments are not modified.
// Partial signatures, derivations, spent outputs, final fields and unknown records are united,
// merged entries are sorted, so result does not depend on arguments order.
func Merge(a, b *psbt.Packet) (*psbt.Packet, error) {
	same, err := sameUnsignedTx(a.UnsignedTx, b.UnsignedTx)
	if err != nil {
		return nil, err
	}
	if !same || len(a.Inputs) != len(b.Inputs) || len(a.Outputs) != len(b.Outputs) {
		return nil, bitcoin.ErrUnsignedTransactionMismatch
	}

	merged, err := utils.CopyPacket(a)
	if err != nil {
		return nil, err
	}

	other, err := utils.CopyPacket(b)
	if err != nil {
		return nil, err
	}

	for i := range merged.Inputs {
		if err = mergeInput(&merged.Inputs[i], &other.Inputs[i], i); err != nil {
			return nil, err
		}
	}
	if err = settleFinalized(merged); err != nil {
		return nil, err
	}

	for i := range merged.Outputs {
		out, otherOut := &merged.Outputs[i], &other.Outputs[i]

		if out.Bip32Derivation, err = mergeDerivations(out.Bip32Derivation, otherOut.Bip32Derivation); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if out.RedeemScript, err = mergeScript(out.RedeemScript, otherOut.RedeemScript, "redeem script"); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if out.WitnessScript, err = mergeScript(out.WitnessScript, otherOut.WitnessScript, "witness script"); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		if out.Unknowns, err = mergeUnknowns(out.Unknowns, otherOut.Unknowns); err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
	}

	if merged.Unknowns, err = mergeUnknowns(merged.Unknowns, other.Unknowns); err != nil {
		return nil, err
	}

	return merged, nil
}

// MergeAll folds packets from left to right with Merge.
func MergeAll(packets ...*psbt.Packet) (*psbt.Packet, error) {
	if len(packets) == 0 {
		return nil, ErrNothingToMerge
	}
	if len(packets) == 1 {
		return utils.CopyPacket(packets[0])
	}

	return sequencereader.Fold(sequencereader.New(packets), func(acc, next *psbt.Packet, position int) (*psbt.Packet, error) {
		merged, err := Merge(acc, next)
		if err != nil {
			return nil, fmt.Errorf("merge packet %d: %w", position, err)
		}

		return merged, nil
	})
}

// mergeInput merges other into input, other is owned by caller.
func mergeInput(input, other *psbt.PInput, index int) (err error) {
	switch {
	case input.WitnessUtxo == nil:
		input.WitnessUtxo = other.WitnessUtxo
	case other.WitnessUtxo != nil:
		if input.WitnessUtxo.Value != other.WitnessUtxo.Value || !bytes.Equal(input.WitnessUtxo.PkScript, other.WitnessUtxo.PkScript) {
			return fmt.Errorf("%w: input %d spends different outputs", bitcoin.ErrUnsignedTransactionMismatch, index)
		}
	}
	switch {
	case input.NonWitnessUtxo == nil:
		input.NonWitnessUtxo = other.NonWitnessUtxo
	case other.NonWitnessUtxo != nil:
		if input.NonWitnessUtxo.TxHash() != other.NonWitnessUtxo.TxHash() {
			return fmt.Errorf("%w: input %d has different previous transactions", bitcoin.ErrUnsignedTransactionMismatch, index)
		}
	}
	switch {
	case input.SighashType == 0:
		input.SighashType = other.SighashType
	case other.SighashType != 0 && input.SighashType != other.SighashType:
		return fmt.Errorf("%w: input %d has different sighash types", bitcoin.ErrUnsignedTransactionMismatch, index)
	}
	if input.RedeemScript, err = mergeScript(input.RedeemScript, other.RedeemScript, "redeem script"); err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}
	if input.WitnessScript, err = mergeScript(input.WitnessScript, other.WitnessScript, "witness script"); err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}

	if input.PartialSigs, err = mergePartialSigs(input.PartialSigs, other.PartialSigs, index); err != nil {
		return err
	}
	if input.Bip32Derivation, err = mergeDerivations(input.Bip32Derivation, other.Bip32Derivation); err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}
	if input.Unknowns, err = mergeUnknowns(input.Unknowns, other.Unknowns); err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}

	if input.FinalScriptWitness != nil && other.FinalScriptWitness != nil &&
		!bytes.Equal(input.FinalScriptWitness, other.FinalScriptWitness) {
		return &ConflictingSignatureError{Input: index}
	}
	if input.FinalScriptSig != nil && other.FinalScriptSig != nil &&
		!bytes.Equal(input.FinalScriptSig, other.FinalScriptSig) {
		return &ConflictingSignatureError{Input: index}
	}
	input.FinalScriptWitness = takeScript(input.FinalScriptWitness, other.FinalScriptWitness)
	input.FinalScriptSig = takeScript(input.FinalScriptSig, other.FinalScriptSig)

	return nil
}

// settleFinalized strips finalized inputs down to spent outputs and final fields.
// Partial signatures are dropped only if the final witness is valid and agrees with them.
func settleFinalized(packet *psbt.Packet) error {
	var sigHashes *txscript.TxSigHashes
	for i := range packet.Inputs {
		input := &packet.Inputs[i]
		if !isFinalized(input) {
			continue
		}

		if len(input.PartialSigs) > 0 {
			if sigHashes == nil {
				var err error
				if sigHashes, err = signer.NewSigHashes(packet); err != nil {
					return fmt.Errorf("input %d: %w", i, err)
				}
			}

			if err := checkFinalWitness(packet.UnsignedTx, sigHashes, input, i); err != nil {
				log.WithField("input", i).WithError(err).Debug("final witness replaces partial signatures")
				return &ConflictingSignatureError{Input: i}
			}

			witness, _ := parseWitness(input.FinalScriptWitness)
			for _, partialSig := range input.PartialSigs {
				if bytes.Equal(partialSig.PubKey, witness[1]) && !bytes.Equal(partialSig.Signature, witness[0]) {
					return &ConflictingSignatureError{Input: i, PubKey: partialSig.PubKey}
				}
			}
		}

		input.PartialSigs = nil
		input.Bip32Derivation = nil
		input.SighashType = 0
		input.RedeemScript = nil
		input.WitnessScript = nil
	}

	return nil
}

func mergePartialSigs(a, b []*psbt.PartialSig, index int) ([]*psbt.PartialSig, error) {
	merged := append([]*psbt.PartialSig(nil), a...)
	for _, sig := range b {
		found := false
		for _, existing := range merged {
			if !bytes.Equal(existing.PubKey, sig.PubKey) {
				continue
			}
			if !bytes.Equal(existing.Signature, sig.Signature) {
				return nil, &ConflictingSignatureError{Input: index, PubKey: sig.PubKey}
			}

			found = true
			break
		}

		if !found {
			merged = append(merged, sig)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].PubKey, merged[j].PubKey) < 0
	})

	return merged, nil
}

func mergeDerivations(a, b []*psbt.Bip32Derivation) ([]*psbt.Bip32Derivation, error) {
	merged := append([]*psbt.Bip32Derivation(nil), a...)
	for _, derivation := range b {
		found := false
		for _, existing := range merged {
			if !bytes.Equal(existing.PubKey, derivation.PubKey) {
				continue
			}
			if existing.MasterKeyFingerprint != derivation.MasterKeyFingerprint || !equalPath(existing.Bip32Path, derivation.Bip32Path) {
				return nil, fmt.Errorf("%w: different derivations of one key", bitcoin.ErrUnsignedTransactionMismatch)
			}

			found = true
			break
		}

		if !found {
			merged = append(merged, derivation)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].PubKey, merged[j].PubKey) < 0
	})

	return merged, nil
}

func mergeUnknowns(a, b []*psbt.Unknown) ([]*psbt.Unknown, error) {
	merged := append([]*psbt.Unknown(nil), a...)
	for _, unknown := range b {
		found := false
		for _, existing := range merged {
			if !bytes.Equal(existing.Key, unknown.Key) {
				continue
			}
			if !bytes.Equal(existing.Value, unknown.Value) {
				return nil, fmt.Errorf("%w: different values of record %x", bitcoin.ErrUnsignedTransactionMismatch, unknown.Key)
			}

			found = true
			break
		}

		if !found {
			merged = append(merged, unknown)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		return bytes.Compare(merged[i].Key, merged[j].Key) < 0
	})

	return merged, nil
}

func sameUnsignedTx(a, b *wire.MsgTx) (bool, error) {
	var bufA, bufB bytes.Buffer
	if err := a.SerializeNoWitness(&bufA); err != nil {
		return false, err
	}
	if err := b.SerializeNoWitness(&bufB); err != nil {
		return false, err
	}

	return bytes.Equal(bufA.Bytes(), bufB.Bytes()), nil
}

func mergeScript(own, other []byte, name string) ([]byte, error) {
	if own != nil && other != nil && !bytes.Equal(own, other) {
		return nil, fmt.Errorf("%w: different %s", bitcoin.ErrUnsignedTransactionMismatch, name)
	}

	return takeScript(own, other), nil
}

func takeScript(own, other []byte) []byte {
	if own != nil {
		return own
	}

	return other
}

func equalPath(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
