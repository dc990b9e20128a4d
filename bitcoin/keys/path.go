// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package keys

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrMalformedPath defines that derivation path can not be parsed.
var ErrMalformedPath = errors.New("malformed derivation path")

const (
	// PurposeBIP84 is the BIP-84 (native segwit) purpose field.
	PurposeBIP84 = 84

	// ChangeExternal is for receiving addresses.
	ChangeExternal = 0
	// ChangeInternal is for change addresses.
	ChangeInternal = 1
)

// Path is an ordered sequence of child indexes, hardened steps are offset by
// hdkeychain.HardenedKeyStart.
type Path []uint32

// Hardened returns hardened child index for i.
func Hardened(i uint32) uint32 {
	return hdkeychain.HardenedKeyStart + i
}

// BIP84Path returns m/84'/coin'/account'/change/index for network params.
func BIP84Path(params *chaincfg.Params, account, change, index uint32) Path {
	return Path{
		Hardened(PurposeBIP84),
		Hardened(params.HDCoinType),
		Hardened(account),
		change,
		index,
	}
}

// ParsePath parses textual derivation path, e.g. "m/84'/1'/0'/0/0".
// Leading "m" is optional, both "'" and "h" mark hardened steps.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return Path{}, nil
	}

	elems := strings.Split(s, "/")
	path := make(Path, 0, len(elems))
	for _, elem := range elems {
		elem = strings.TrimSpace(elem)

		var offset uint32
		if strings.HasSuffix(elem, "'") || strings.HasSuffix(elem, "h") {
			offset = hdkeychain.HardenedKeyStart
			elem = elem[:len(elem)-1]
		}

		value, err := strconv.ParseUint(elem, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid elem %q", ErrMalformedPath, elem)
		}
		if uint32(value) >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("%w: elem %d must be in range [0, %d)", ErrMalformedPath, value, hdkeychain.HardenedKeyStart)
		}

		path = append(path, uint32(value)+offset)
	}

	return path, nil
}

// String converts path to its canonical representation, e.g. "m/84'/1'/0'/0/0".
func (p Path) String() string {
	return "m" + p.Relative()
}

// Relative returns path without "m" prefix, e.g. "/84'/1'", empty for empty path.
func (p Path) Relative() string {
	var sb strings.Builder
	for _, step := range p {
		sb.WriteByte('/')
		if step >= hdkeychain.HardenedKeyStart {
			sb.WriteString(strconv.FormatUint(uint64(step-hdkeychain.HardenedKeyStart), 10))
			sb.WriteByte('\'')
			continue
		}

		sb.WriteString(strconv.FormatUint(uint64(step), 10))
	}

	return sb.String()
}

// IsHardened returns true if any step of the path is hardened.
func (p Path) IsHardened() bool {
	return p.LastHardened() >= 0
}

// LastHardened returns index of the last hardened step, -1 if there is none.
func (p Path) LastHardened() int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] >= hdkeychain.HardenedKeyStart {
			return i
		}
	}

	return -1
}

// Child returns a new path extended with provided steps, p stays untouched.
func (p Path) Child(steps ...uint32) Path {
	child := make(Path, 0, len(p)+len(steps))
	child = append(child, p...)

	return append(child, steps...)
}
