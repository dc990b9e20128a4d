// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"github.com/btcsuite/btcd/wire"
)

// InputMetadata describes everything needed to put an outpoint into a joint
// transaction. It is either SignableInput or ForeignInput.
type InputMetadata interface {
	// PreviousOutPoint returns the spent outpoint.
	PreviousOutPoint() wire.OutPoint
	// WitnessUtxo returns the spent output (value and script).
	WitnessUtxo() *wire.TxOut

	inputMetadata()
}

// Derivation describes BIP-32 origin of the key that controls an input.
type Derivation struct {
	MasterKeyFingerprint uint32
	Path                 []uint32
	PubKey               []byte // compressed.
}

// SignableInput is an input the describing wallet holds the private key for.
type SignableInput struct {
	OutPoint   wire.OutPoint
	TxOut      *wire.TxOut
	Derivation Derivation
}

// PreviousOutPoint implements InputMetadata.
func (in *SignableInput) PreviousOutPoint() wire.OutPoint { return in.OutPoint }

// WitnessUtxo implements InputMetadata.
func (in *SignableInput) WitnessUtxo() *wire.TxOut { return in.TxOut }

func (in *SignableInput) inputMetadata() {}

// ForeignInput is an input declared by another participant: only its script and
// value are known, signing happens on the owner side.
type ForeignInput struct {
	OutPoint wire.OutPoint
	TxOut    *wire.TxOut
	// RefundScript, if set, receives the full input value back in a dedicated output.
	RefundScript []byte
}

// PreviousOutPoint implements InputMetadata.
func (in *ForeignInput) PreviousOutPoint() wire.OutPoint { return in.OutPoint }

// WitnessUtxo implements InputMetadata.
func (in *ForeignInput) WitnessUtxo() *wire.TxOut { return in.TxOut }

func (in *ForeignInput) inputMetadata() {}
