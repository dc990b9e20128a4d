// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package combiner

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/BoostyLabs/coinjoin/bitcoin"
)

// ErrNothingToMerge defines that merge was requested for empty packets list.
var ErrNothingToMerge = errors.New("nothing to merge")

// ConflictingSignatureError is the error type to describe two different signatures
// of the same key for the same input.
type ConflictingSignatureError struct {
	Input  int
	PubKey []byte
}

// Error returns error description.
func (e *ConflictingSignatureError) Error() string {
	if len(e.PubKey) == 0 {
		return fmt.Sprintf("%s: input %d", bitcoin.ErrConflictingSignature, e.Input)
	}

	return fmt.Sprintf("%s: input %d, key %s", bitcoin.ErrConflictingSignature, e.Input, hex.EncodeToString(e.PubKey))
}

// Is implements comparator method for [errors] package.
func (e *ConflictingSignatureError) Is(target error) bool {
	return target == bitcoin.ErrConflictingSignature
}

// IncompleteSignaturesError is the error type to describe inputs which can not be finalized.
type IncompleteSignaturesError struct {
	Inputs []int
}

// Error returns error description.
func (e *IncompleteSignaturesError) Error() string {
	return fmt.Sprintf("%s: inputs %v", bitcoin.ErrIncompleteSignatures, e.Inputs)
}

// Is implements comparator method for [errors] package.
func (e *IncompleteSignaturesError) Is(target error) bool {
	return target == bitcoin.ErrIncompleteSignatures
}
