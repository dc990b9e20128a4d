// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"errors"
)

var (
	// ErrInvalidMnemonic defines that seed phrase failed wordlist or checksum validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	// ErrHardenedDerivationRequiresPrivateKey defines that hardened step was requested from public key.
	ErrHardenedDerivationRequiresPrivateKey = errors.New("hardened derivation requires private key")
	// ErrUtxoNotOwned defines that utxo script is not produced by the wallet descriptors.
	ErrUtxoNotOwned = errors.New("utxo is not owned by wallet")
	// ErrWatchOnly defines that operation needs private key, but wallet holds public descriptors only.
	ErrWatchOnly = errors.New("wallet is watch-only")
	// ErrDenominationMismatch defines that coinjoin outputs do not share the same amount.
	ErrDenominationMismatch = errors.New("denomination mismatch")
	// ErrInsufficientFunds defines that coordinator utxos do not cover outputs and fee.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidUTXOAmount defines that there are not enough utxos to select requested amount of them.
	ErrInvalidUTXOAmount = errors.New("invalid utxo amount")
	// ErrUnsignedTransactionMismatch defines that psbts wrap different unsigned transactions.
	ErrUnsignedTransactionMismatch = errors.New("unsigned transaction mismatch")
	// ErrConflictingSignature defines that the same key produced different signatures for one input.
	ErrConflictingSignature = errors.New("conflicting signature")
	// ErrIncompleteSignatures defines that some inputs can not be finalized yet.
	ErrIncompleteSignatures = errors.New("incomplete signatures")
)
