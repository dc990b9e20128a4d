// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet

import (
	"fmt"

	"github.com/BoostyLabs/coinjoin/bitcoin"
)

// SpendableInputMetadata describes utxo the wallet can sign for, including BIP-32 derivation.
func (w *Wallet) SpendableInputMetadata(utxo bitcoin.UTXO) (bitcoin.InputMetadata, error) {
	if w.IsWatchOnly() {
		return nil, bitcoin.ErrWatchOnly
	}

	loc, ok, err := w.lookup(utxo.Script)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", bitcoin.ErrUtxoNotOwned, utxo.OutPoint)
	}

	desc := w.descriptors[loc.keychain]
	path, err := desc.Path(loc.index)
	if err != nil {
		return nil, err
	}

	pubKey, err := desc.PubKey(loc.index)
	if err != nil {
		return nil, err
	}

	fingerprint, err := desc.Fingerprint()
	if err != nil {
		return nil, err
	}

	return &bitcoin.SignableInput{
		OutPoint: utxo.OutPoint,
		TxOut:    utxo.TxOut(),
		Derivation: bitcoin.Derivation{
			MasterKeyFingerprint: fingerprint,
			Path:                 path,
			PubKey:               pubKey,
		},
	}, nil
}

// ForeignInputMetadata describes utxo for inclusion into a transaction built by
// another wallet: outpoint and spent output only.
func (w *Wallet) ForeignInputMetadata(utxo bitcoin.UTXO) (bitcoin.InputMetadata, error) {
	_, ok, err := w.lookup(utxo.Script)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", bitcoin.ErrUtxoNotOwned, utxo.OutPoint)
	}

	return &bitcoin.ForeignInput{
		OutPoint: utxo.OutPoint,
		TxOut:    utxo.TxOut(),
	}, nil
}
