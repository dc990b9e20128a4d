// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
)

// ErrUnknownInputsHelpingKey defines that inputs help keys is unknown.
var ErrUnknownInputsHelpingKey = errors.New("unknown inputs help keys")

// InputsHelpingKey defines type for additional data in PSBT Unknowns field
// to distinguish input roles and their indexes.
type InputsHelpingKey byte

const (
	// CoordinatorInputsHelpingKey defines key for inputs funded by coordinator wallet.
	CoordinatorInputsHelpingKey InputsHelpingKey = 0x10
	// ForeignInputsHelpingKey defines key for inputs contributed by participants.
	ForeignInputsHelpingKey InputsHelpingKey = 0x20
)

// InputsHelpingKeyFromBytes parses bytes array into InputsHelpingKey if any.
func InputsHelpingKeyFromBytes(b []byte) (InputsHelpingKey, error) {
	if len(b) != 1 {
		return 0, ErrUnknownInputsHelpingKey
	}

	switch b[0] {
	case CoordinatorInputsHelpingKey.Byte():
		return CoordinatorInputsHelpingKey, nil
	case ForeignInputsHelpingKey.Byte():
		return ForeignInputsHelpingKey, nil
	}

	return 0, ErrUnknownInputsHelpingKey
}

// Byte returns InputsHelpingKey as byte.
func (k InputsHelpingKey) Byte() byte {
	return byte(k)
}

// Bytes returns InputsHelpingKey as bytes array.
func (k InputsHelpingKey) Bytes() []byte {
	return []byte{byte(k)}
}

// String returns input role name.
func (k InputsHelpingKey) String() string {
	switch k {
	case CoordinatorInputsHelpingKey:
		return "coordinator"
	case ForeignInputsHelpingKey:
		return "foreign"
	default:
		return "unknown"
	}
}
