// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package combiner

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/coinjoin/bitcoin/signer"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
)

// Finalize returns finalized copy of packet. Every not yet finalized input must spend P2WPKH
// output and carry exactly one valid signature of the key the output pays to.
// Already finalized inputs must carry a valid P2WPKH witness and are kept as is,
// so finalizing twice gives the same packet.
func Finalize(packet *psbt.Packet) (*psbt.Packet, error) {
	finalized, err := utils.CopyPacket(packet)
	if err != nil {
		return nil, err
	}

	if missing := signer.MissingWitnessUtxos(finalized); len(missing) > 0 {
		return nil, &IncompleteSignaturesError{Inputs: missing}
	}

	sigHashes, err := signer.NewSigHashes(finalized)
	if err != nil {
		return nil, err
	}

	var incomplete []int
	for i := range finalized.Inputs {
		input := &finalized.Inputs[i]
		if isFinalized(input) {
			if err = checkFinalWitness(finalized.UnsignedTx, sigHashes, input, i); err != nil {
				log.WithField("input", i).WithError(err).Debug("final witness is invalid")
				incomplete = append(incomplete, i)
			}

			continue
		}

		if err = checkWitnessPubKeyHashInput(finalized.UnsignedTx, sigHashes, input, i); err != nil {
			log.WithField("input", i).WithError(err).Debug("input is not finalizable")
			incomplete = append(incomplete, i)
			continue
		}

		if err = psbt.Finalize(finalized, i); err != nil {
			log.WithField("input", i).WithError(err).Debug("input finalization failed")
			incomplete = append(incomplete, i)
		}
	}

	if len(incomplete) > 0 {
		return nil, &IncompleteSignaturesError{Inputs: incomplete}
	}

	return finalized, nil
}

// Extract returns network serializable transaction of fully finalized packet.
func Extract(packet *psbt.Packet) (*wire.MsgTx, error) {
	var incomplete []int
	for i := range packet.Inputs {
		if !isFinalized(&packet.Inputs[i]) {
			incomplete = append(incomplete, i)
		}
	}
	if len(incomplete) > 0 {
		return nil, &IncompleteSignaturesError{Inputs: incomplete}
	}

	return psbt.Extract(packet)
}

// FinalizeAndExtract finalizes packet and extracts its transaction.
func FinalizeAndExtract(packet *psbt.Packet) (*wire.MsgTx, error) {
	finalized, err := Finalize(packet)
	if err != nil {
		return nil, err
	}

	return Extract(finalized)
}

func isFinalized(input *psbt.PInput) bool {
	return input.FinalScriptWitness != nil || input.FinalScriptSig != nil
}

func checkWitnessPubKeyHashInput(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, input *psbt.PInput, index int) error {
	if input.WitnessUtxo == nil {
		return errors.New("missing witness utxo")
	}
	if len(input.PartialSigs) != 1 {
		return fmt.Errorf("expected one partial signature, got %d", len(input.PartialSigs))
	}

	return checkSignature(tx, sigHashes, input, index, input.PartialSigs[0])
}

// checkFinalWitness verifies that final fields of input hold [signature, pubkey] witness
// satisfying its P2WPKH output.
func checkFinalWitness(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, input *psbt.PInput, index int) error {
	if len(input.FinalScriptSig) != 0 {
		return errors.New("native segwit input has signature script")
	}

	witness, err := parseWitness(input.FinalScriptWitness)
	if err != nil {
		return err
	}
	if len(witness) != 2 {
		return fmt.Errorf("expected two witness items, got %d", len(witness))
	}

	return checkSignature(tx, sigHashes, input, index, &psbt.PartialSig{PubKey: witness[1], Signature: witness[0]})
}

// checkSignature verifies partial signature of input against BIP-143 sighash.
func checkSignature(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, input *psbt.PInput, index int, partialSig *psbt.PartialSig) error {
	if input.WitnessUtxo == nil {
		return errors.New("missing witness utxo")
	}
	if !utils.IsWitnessPubKeyHash(input.WitnessUtxo.PkScript) {
		return errors.New("spent output is not P2WPKH")
	}
	if !utils.WitnessPubKeyHashMatches(input.WitnessUtxo.PkScript, partialSig.PubKey) {
		return errors.New("signature key does not match spent output")
	}
	if len(partialSig.Signature) < 2 {
		return errors.New("empty signature")
	}

	hashType := txscript.SigHashType(partialSig.Signature[len(partialSig.Signature)-1])
	if hashType != signer.SigHashType(input) {
		return fmt.Errorf("unexpected sighash type %d", hashType)
	}

	sig, err := ecdsa.ParseDERSignature(partialSig.Signature[:len(partialSig.Signature)-1])
	if err != nil {
		return err
	}

	pubKey, err := btcec.ParsePubKey(partialSig.PubKey)
	if err != nil {
		return err
	}

	hash, err := txscript.CalcWitnessSigHash(input.WitnessUtxo.PkScript, sigHashes, hashType, tx, index, input.WitnessUtxo.Value)
	if err != nil {
		return err
	}

	if !sig.Verify(hash, pubKey) {
		return errors.New("invalid signature")
	}

	return nil
}

// parseWitness decodes serialized witness stack of PSBT final field.
func parseWitness(serialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(serialized)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("witness declares %d items in %d bytes", count, r.Len())
	}

	witness := make(wire.TxWitness, 0, count)
	for i := uint64(0); i < count; i++ {
		item, err := wire.ReadVarBytes(r, 0, txscript.MaxScriptSize, "witness item")
		if err != nil {
			return nil, err
		}

		witness = append(witness, item)
	}
	if r.Len() != 0 {
		return nil, errors.New("trailing bytes after witness")
	}

	return witness, nil
}
