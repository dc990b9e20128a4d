// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package descriptor

import (
	"errors"
	"strings"
)

// ErrInvalidChecksum defines that descriptor checksum does not match its body.
var ErrInvalidChecksum = errors.New("invalid descriptor checksum")

const (
	inputCharset    = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLength  = 8
)

var generator = [5]uint64{0xf5dee51989, 0xa9fdca3312, 0x1bab10e32d, 0x3706b1677a, 0x644d626ffd}

func polymod(c uint64, value uint64) uint64 {
	top := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ value
	for i, g := range generator {
		if (top>>i)&1 == 1 {
			c ^= g
		}
	}

	return c
}

// Checksum computes 8 character descriptor checksum.
func Checksum(desc string) (string, error) {
	var (
		c          uint64 = 1
		class      uint64
		classCount int
	)
	for _, ch := range desc {
		pos := strings.IndexRune(inputCharset, ch)
		if pos < 0 {
			return "", errors.New("descriptor contains invalid character")
		}

		c = polymod(c, uint64(pos)&31)
		class = class*3 + uint64(pos)>>5
		classCount++
		if classCount == 3 {
			c = polymod(c, class)
			class, classCount = 0, 0
		}
	}
	if classCount > 0 {
		c = polymod(c, class)
	}
	for i := 0; i < checksumLength; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	checksum := make([]byte, checksumLength)
	for i := range checksum {
		checksum[i] = checksumCharset[(c>>(5*(7-i)))&31]
	}

	return string(checksum), nil
}

// splitChecksum separates optional "#checksum" suffix and verifies it.
func splitChecksum(s string) (string, error) {
	body, checksum, found := strings.Cut(s, "#")
	if !found {
		return s, nil
	}

	expected, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if checksum != expected {
		return "", ErrInvalidChecksum
	}

	return body, nil
}
