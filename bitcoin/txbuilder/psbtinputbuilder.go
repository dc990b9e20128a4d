// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
)

var (
	// ErrPSBTInputBuilder defines errors class for prepare input method.
	ErrPSBTInputBuilder = errors.New("prepare psbt input")
	// ErrUnsupportedScript defines that spent output is not native segwit v0 key hash.
	ErrUnsupportedScript = errors.New("only P2WPKH inputs are supported")
)

// PrepareInput updates input with data required for signing based on input metadata.
func PrepareInput(input *psbt.PInput, meta bitcoin.InputMetadata) error {
	txOut := meta.WitnessUtxo()
	if txOut == nil {
		return errors.Join(ErrPSBTInputBuilder, errors.New("missing spent output"))
	}
	if !utils.IsWitnessPubKeyHash(txOut.PkScript) {
		return errors.Join(ErrPSBTInputBuilder, ErrUnsupportedScript)
	}

	input.WitnessUtxo = wire.NewTxOut(txOut.Value, append([]byte(nil), txOut.PkScript...))
	input.SighashType = signHashType

	switch meta := meta.(type) {
	case *bitcoin.SignableInput:
		if !utils.WitnessPubKeyHashMatches(txOut.PkScript, meta.Derivation.PubKey) {
			return errors.Join(ErrPSBTInputBuilder, fmt.Errorf("derivation key does not match script of %s", meta.OutPoint))
		}

		input.Bip32Derivation = []*psbt.Bip32Derivation{{
			PubKey:               meta.Derivation.PubKey,
			MasterKeyFingerprint: meta.Derivation.MasterKeyFingerprint,
			Bip32Path:            meta.Derivation.Path,
		}}
	case *bitcoin.ForeignInput:
	default:
		return errors.Join(ErrPSBTInputBuilder, fmt.Errorf("unknown input metadata %T", meta))
	}

	return nil
}
