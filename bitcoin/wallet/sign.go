// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	log "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
	"github.com/BoostyLabs/coinjoin/bitcoin/signer"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
)

// SignResult describes Sign outcome.
type SignResult struct {
	InputsSigned  int
	InputsSkipped int
	Signed        []int // signed inputs indexes.
}

// Sign returns a copy of packet with signatures for every input the wallet owns.
// Inputs of other participants are skipped, packet itself is not modified.
func (w *Wallet) Sign(packet *psbt.Packet) (*psbt.Packet, SignResult, error) {
	if w.IsWatchOnly() {
		return nil, SignResult{}, bitcoin.ErrWatchOnly
	}

	signed, err := utils.CopyPacket(packet)
	if err != nil {
		return nil, SignResult{}, err
	}

	var result SignResult
	for i := range signed.Inputs {
		input := &signed.Inputs[i]
		if input.WitnessUtxo == nil || len(input.FinalScriptWitness) != 0 {
			result.InputsSkipped++
			continue
		}

		privateKey, err := w.signingKey(input)
		if err != nil {
			return nil, result, fmt.Errorf("input %d: %w", i, err)
		}
		if privateKey == nil {
			result.InputsSkipped++
			continue
		}

		if err = signer.SignWitnessPubKeyHash(signed, i, privateKey); err != nil {
			return nil, result, fmt.Errorf("sign input %d: %w", i, err)
		}

		result.InputsSigned++
		result.Signed = append(result.Signed, i)
	}

	log.WithFields(log.Fields{
		"wallet":  w.name,
		"signed":  result.InputsSigned,
		"skipped": result.InputsSkipped,
	}).Debug("psbt signed")

	return signed, result, nil
}

// signingKey finds private key for input, nil if input is not owned.
// BIP-32 derivation records are checked first, then scripts of the lookahead window.
func (w *Wallet) signingKey(input *psbt.PInput) (*btcec.PrivateKey, error) {
	for _, derivation := range input.Bip32Derivation {
		for _, desc := range w.descriptors {
			fingerprint, err := desc.Fingerprint()
			if err != nil {
				return nil, err
			}
			if fingerprint != derivation.MasterKeyFingerprint {
				continue
			}

			key, err := desc.DeriveKey(derivation.Bip32Path)
			if err != nil {
				continue
			}

			privateKey, err := keys.PrivateKey(key)
			if err != nil {
				return nil, err
			}

			pubKey := privateKey.PubKey().SerializeCompressed()
			if bytes.Equal(pubKey, derivation.PubKey) && utils.WitnessPubKeyHashMatches(input.WitnessUtxo.PkScript, pubKey) {
				return privateKey, nil
			}
		}
	}

	loc, ok, err := w.lookup(input.WitnessUtxo.PkScript)
	if err != nil || !ok {
		return nil, err
	}

	key, err := w.descriptors[loc.keychain].Key(loc.index)
	if err != nil {
		return nil, err
	}

	return keys.PrivateKey(key)
}
