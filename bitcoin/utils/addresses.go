// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BoostyLabs/coinjoin/internal/reverse"
)

// ErrNonStandardScript defines that script does not resolve to exactly one address.
var ErrNonStandardScript = errors.New("script has no single address")

// NewWitnessPubKeyHashAddress returns P2WPKH address for compressed public key.
func NewWitnessPubKeyHashAddress(chainParams *chaincfg.Params, pubKey []byte) (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pubKey), chainParams)
}

// AddressFromScript renders scriptPubKey as an address string for network.
func AddressFromScript(chainParams *chaincfg.Params, script []byte) (string, error) {
	_, addresses, _, err := txscript.ExtractPkScriptAddrs(script, chainParams)
	if err != nil {
		return "", err
	}
	if len(addresses) != 1 {
		return "", ErrNonStandardScript
	}

	return addresses[0].EncodeAddress(), nil
}

// ScriptFromAddress decodes address and returns its scriptPubKey.
func ScriptFromAddress(chainParams *chaincfg.Params, address string) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(address, chainParams)
	if err != nil {
		return nil, err
	}
	if !decoded.IsForNet(chainParams) {
		return nil, errors.New("address is for another network")
	}

	return txscript.PayToAddrScript(decoded)
}

// MustScriptFromAddress uses ScriptFromAddress, panics in case of error.
func MustScriptFromAddress(chainParams *chaincfg.Params, address string) []byte {
	script, err := ScriptFromAddress(chainParams, address)
	if err != nil {
		panic(err)
	}

	return script
}

// ElectrumScriptHash returns script hash used by electrum protocol:
// hex encoded sha256 of the script with reversed byte order.
func ElectrumScriptHash(script []byte) string {
	hash := sha256.Sum256(script)
	reverse.Bytes(hash[:])

	return hex.EncodeToString(hash[:])
}
