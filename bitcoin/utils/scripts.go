// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package utils

import (
	"bytes"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// NewWitnessPubKeyHashScript builds P2WPKH locking script: {OP_0 <HASH160(pubKey)>}.
func NewWitnessPubKeyHashScript(pubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(pubKey)).
		Script()
}

// MustWitnessPubKeyHashScript uses NewWitnessPubKeyHashScript, panics in case of error.
func MustWitnessPubKeyHashScript(pubKey []byte) []byte {
	script, err := NewWitnessPubKeyHashScript(pubKey)
	if err != nil {
		panic(err)
	}

	return script
}

// IsWitnessPubKeyHash returns true for P2WPKH locking scripts.
func IsWitnessPubKeyHash(script []byte) bool {
	return txscript.IsPayToWitnessPubKeyHash(script)
}

// WitnessPubKeyHashMatches returns true if script is P2WPKH locking script of pubKey.
func WitnessPubKeyHashMatches(script, pubKey []byte) bool {
	if !IsWitnessPubKeyHash(script) {
		return false
	}

	return bytes.Equal(script[2:], btcutil.Hash160(pubKey))
}
