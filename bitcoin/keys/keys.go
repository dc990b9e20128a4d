// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

// Package keys derives BIP-32 keys from BIP-39 seed phrases.
// All functions are stateless and safe for concurrent use.
package keys

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"

	"github.com/BoostyLabs/coinjoin/bitcoin"
)

// MnemonicEntropyBits is the default entropy size for generated mnemonics (12 words).
const MnemonicEntropyBits = 128

// NewMnemonic creates a new BIP-39 mnemonic with provided entropy size.
func NewMnemonic(entropyBits int) (string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// NormalizeMnemonic collapses whitespace, e.g. trailing newline of a mnemonic file.
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(phrase), " ")
}

// DeriveMaster validates phrase and returns network scoped master extended private key.
func DeriveMaster(phrase string, params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	return DeriveMasterWithPassphrase(phrase, "", params)
}

// DeriveMasterWithPassphrase is DeriveMaster with BIP-39 passphrase.
func DeriveMasterWithPassphrase(phrase, passphrase string, params *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	phrase = NormalizeMnemonic(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return nil, bitcoin.ErrInvalidMnemonic
	}

	seed, err := bip39.NewSeedWithErrorChecking(phrase, passphrase)
	if err != nil {
		return nil, errors.Join(bitcoin.ErrInvalidMnemonic, err)
	}

	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	return master, nil
}

// Derive applies path steps to key in order.
func Derive(key *hdkeychain.ExtendedKey, path Path) (*hdkeychain.ExtendedKey, error) {
	current := key
	for _, step := range path {
		child, err := current.Derive(step)
		if err != nil {
			if errors.Is(err, hdkeychain.ErrDeriveHardFromPublic) {
				return nil, bitcoin.ErrHardenedDerivationRequiresPrivateKey
			}

			return nil, fmt.Errorf("derive child %d: %w", step, err)
		}

		current = child
	}

	return current, nil
}

// ToPublic returns public-key-only copy of key, chain code is retained.
func ToPublic(key *hdkeychain.ExtendedKey) (*hdkeychain.ExtendedKey, error) {
	return key.Neuter()
}

// PrivateKey returns EC private key of extended key.
func PrivateKey(key *hdkeychain.ExtendedKey) (*btcec.PrivateKey, error) {
	if !key.IsPrivate() {
		return nil, bitcoin.ErrWatchOnly
	}

	return key.ECPrivKey()
}

// PublicKey returns EC public key of extended key.
func PublicKey(key *hdkeychain.ExtendedKey) (*btcec.PublicKey, error) {
	return key.ECPubKey()
}

// Fingerprint returns key fingerprint (first 4 bytes of HASH160 of the public key)
// in the byte order psbt serializes it.
func Fingerprint(key *hdkeychain.ExtendedKey) (uint32, error) {
	pubKey, err := key.ECPubKey()
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(btcutil.Hash160(pubKey.SerializeCompressed())[:4]), nil
}
