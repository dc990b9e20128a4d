// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package signer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
)

var (
	// ErrInvalidInputIndex defines that input index is out of packet inputs range.
	ErrInvalidInputIndex = errors.New("invalid input index")
	// ErrMissingWitnessUtxo defines that input has no witness utxo to sign against.
	ErrMissingWitnessUtxo = errors.New("input has no witness utxo")
	// ErrKeyMismatch defines that private key does not control input script.
	ErrKeyMismatch = errors.New("private key does not match input script")
)

// SignP2WPKHParams defines parameters for SignP2WPKH method.
type SignP2WPKHParams struct {
	SerializedPSBT []byte
	Inputs         []int // inputs indexes.
	PrivateKey     *btcec.PrivateKey
}

// Signer provides transaction signing related logic.
type Signer struct {
	networkParams *chaincfg.Params
}

// NewSigner is a constructor for Signer.
func NewSigner(networkParams *chaincfg.Params) *Signer {
	return &Signer{
		networkParams: networkParams,
	}
}

// SignP2WPKH signs native segwit inputs by provided indexes, returns updated serialized PSBT.
func (signer *Signer) SignP2WPKH(params SignP2WPKHParams) ([]byte, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewBuffer(params.SerializedPSBT), false)
	if err != nil {
		return nil, err
	}

	sigHashes, err := NewSigHashes(packet)
	if err != nil {
		return nil, err
	}

	for _, input := range params.Inputs {
		if err = signWitnessPubKeyHash(packet, input, sigHashes, params.PrivateKey); err != nil {
			return nil, fmt.Errorf("sign input %d: %w", input, err)
		}
	}

	w := bytes.NewBuffer(nil)
	err = packet.Serialize(w)
	if err != nil {
		return nil, err
	}

	return w.Bytes(), nil
}

// SignWitnessPubKeyHash adds BIP-143 signature of privateKey to packet input.
// Signing is deterministic, repeated signing of the same input is a no-op.
func SignWitnessPubKeyHash(packet *psbt.Packet, input int, privateKey *btcec.PrivateKey) error {
	if input < 0 || len(packet.Inputs) <= input {
		return ErrInvalidInputIndex
	}

	sigHashes, err := NewSigHashes(packet)
	if err != nil {
		return err
	}

	return signWitnessPubKeyHash(packet, input, sigHashes, privateKey)
}

// MissingWitnessUtxos returns indexes of packet inputs without witness utxo.
func MissingWitnessUtxos(packet *psbt.Packet) []int {
	var missing []int
	for idx, in := range packet.Inputs {
		if in.WitnessUtxo == nil {
			missing = append(missing, idx)
		}
	}

	return missing
}

// NewSigHashes returns BIP-143 midstate hashes of packet transaction.
// Every input has to carry witness utxo.
func NewSigHashes(packet *psbt.Packet) (*txscript.TxSigHashes, error) {
	if missing := MissingWitnessUtxos(packet); len(missing) > 0 {
		return nil, fmt.Errorf("%w: inputs %v", ErrMissingWitnessUtxo, missing)
	}

	return txscript.NewTxSigHashes(packet.UnsignedTx, PrevOutputFetcher(packet)), nil
}

// PrevOutputFetcher returns fetcher over witness utxos of packet inputs.
func PrevOutputFetcher(packet *psbt.Packet) txscript.PrevOutputFetcher {
	prevOutputs := make(map[wire.OutPoint]*wire.TxOut, len(packet.UnsignedTx.TxIn))
	for idx, in := range packet.Inputs {
		if in.WitnessUtxo != nil {
			prevOutputs[packet.UnsignedTx.TxIn[idx].PreviousOutPoint] = in.WitnessUtxo
		}
	}

	return txscript.NewMultiPrevOutFetcher(prevOutputs)
}

// SigHashType returns input sighash type, SIGHASH_ALL if unset.
func SigHashType(input *psbt.PInput) txscript.SigHashType {
	if input.SighashType == 0 {
		return txscript.SigHashAll
	}

	return input.SighashType
}

func signWitnessPubKeyHash(packet *psbt.Packet, inputIndex int, sigHashes *txscript.TxSigHashes, privateKey *btcec.PrivateKey) error {
	if inputIndex < 0 || len(packet.Inputs) <= inputIndex {
		return ErrInvalidInputIndex
	}

	var (
		input  = &packet.Inputs[inputIndex]
		pubKey = privateKey.PubKey().SerializeCompressed()
	)
	if input.WitnessUtxo == nil {
		return ErrMissingWitnessUtxo
	}
	if !utils.WitnessPubKeyHashMatches(input.WitnessUtxo.PkScript, pubKey) {
		return ErrKeyMismatch
	}

	sig, err := txscript.RawTxInWitnessSignature(
		packet.UnsignedTx, sigHashes, inputIndex,
		input.WitnessUtxo.Value, input.WitnessUtxo.PkScript,
		SigHashType(input), privateKey,
	)
	if err != nil {
		return err
	}

	for _, partialSig := range input.PartialSigs {
		if !bytes.Equal(partialSig.PubKey, pubKey) {
			continue
		}
		if bytes.Equal(partialSig.Signature, sig) {
			return nil
		}

		return bitcoin.ErrConflictingSignature
	}

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return err
	}

	outcome, err := updater.Sign(inputIndex, sig, pubKey, nil, nil)
	if err != nil {
		return err
	}
	if outcome != psbt.SignSuccesful && outcome != psbt.SignFinalized {
		return fmt.Errorf("unexpected sign outcome %d", outcome)
	}

	return nil
}
