// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package sequencereader

import (
	"errors"
)

// ErrSequenceEnded defines that there are no more elements to read.
var ErrSequenceEnded = errors.New("the sequence is ended")

// SequenceReader defines the simplest reader for sequences.
type SequenceReader[T any] struct {
	s   []T
	idx int
}

// New is a constructor for SequenceReader.
func New[T any](seq []T) *SequenceReader[T] {
	return &SequenceReader[T]{s: seq}
}

// HasNext returns true is sequence is not ended.
func (sr *SequenceReader[T]) HasNext() bool {
	return sr.idx < len(sr.s)
}

// Next returns next element of the sequence.
func (sr *SequenceReader[T]) Next() (T, error) {
	if !sr.HasNext() {
		return *new(T), ErrSequenceEnded
	}

	pIdx := sr.idx
	sr.idx++

	return sr.s[pIdx], nil
}

// Position returns index of the element that will be returned by the next Next call.
func (sr *SequenceReader[T]) Position() int {
	return sr.idx
}

// Len returns how many items are left.
func (sr *SequenceReader[T]) Len() int {
	return len(sr.s) - sr.idx
}

// Fold reduces the rest of the sequence from left to right, starting with
// the first unread element as accumulator.
func Fold[T any](sr *SequenceReader[T], fn func(acc, next T, position int) (T, error)) (T, error) {
	acc, err := sr.Next()
	if err != nil {
		return acc, err
	}

	for sr.HasNext() {
		position := sr.Position()
		next, _ := sr.Next()

		acc, err = fn(acc, next, position)
		if err != nil {
			return *new(T), err
		}
	}

	return acc, nil
}
