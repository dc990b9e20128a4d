// Copyright (C) 2022 Creditor Corp. Group.
// See LICENSE for copying information.

package numbers

// Integer defines integer types the helpers operate on, e.g. btcutil.Amount.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Sum returns the sum of provided values.
func Sum[T Integer](values ...T) T {
	var total T
	for _, value := range values {
		total += value
	}

	return total
}

// SumBy returns the sum of values extracted from items by valueFn.
func SumBy[E any, T Integer](items []E, valueFn func(E) T) T {
	var total T
	for _, item := range items {
		total += valueFn(item)
	}

	return total
}

// Max returns the largest value from provided.
func Max[T Integer](a T, b ...T) T {
	maxValue := a
	for _, el := range b {
		if el > maxValue {
			maxValue = el
		}
	}

	return maxValue
}

// Min returns the least value from provided.
func Min[T Integer](a T, b ...T) T {
	minValue := a
	for _, el := range b {
		if el < minValue {
			minValue = el
		}
	}

	return minValue
}

// AllEqual returns true if every value equals expected.
func AllEqual[T Integer](expected T, values ...T) bool {
	for _, value := range values {
		if value != expected {
			return false
		}
	}

	return true
}
