// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

// Package descriptor implements native segwit single key output descriptors
// of form wpkh(KEY[/path][/*]).
package descriptor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
)

var (
	// ErrMalformedDescriptor defines that descriptor text can not be parsed.
	ErrMalformedDescriptor = errors.New("malformed descriptor")
	// ErrNotRanged defines that non-zero index was requested from single key descriptor.
	ErrNotRanged = errors.New("descriptor is not ranged")
	// ErrForeignPath defines that derivation path does not belong to descriptor.
	ErrForeignPath = errors.New("path is not derived by descriptor")
	// ErrWrongNetwork defines that descriptor key belongs to another network.
	ErrWrongNetwork = errors.New("descriptor key is for another network")
)

const (
	prefix   = "wpkh("
	suffix   = ")"
	wildcard = "/*"
)

// Descriptor describes a set of P2WPKH scripts derived from one extended key.
type Descriptor struct {
	key    *hdkeychain.ExtendedKey
	path   keys.Path
	ranged bool
}

// New returns descriptor for key, derivation path after key and wildcard flag.
func New(key *hdkeychain.ExtendedKey, path keys.Path, ranged bool) *Descriptor {
	return &Descriptor{
		key:    key,
		path:   append(keys.Path{}, path...),
		ranged: ranged,
	}
}

// BIP84 returns ranged descriptor master/84'/coin'/account'/change/*.
func BIP84(master *hdkeychain.ExtendedKey, params *chaincfg.Params, account, change uint32) *Descriptor {
	path := keys.BIP84Path(params, account, change, 0)

	return New(master, path[:len(path)-1], true)
}

// Parse parses descriptor text, optional checksum is verified.
func Parse(s string, params *chaincfg.Params) (*Descriptor, error) {
	body, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}

	if !strings.HasPrefix(body, prefix) || !strings.HasSuffix(body, suffix) {
		return nil, fmt.Errorf("%w: expected %s...%s", ErrMalformedDescriptor, prefix, suffix)
	}
	inner := body[len(prefix) : len(body)-len(suffix)]

	ranged := strings.HasSuffix(inner, wildcard)
	inner = strings.TrimSuffix(inner, wildcard)

	keyText, pathText, _ := strings.Cut(inner, "/")
	if strings.ContainsAny(keyText, "[]") {
		return nil, fmt.Errorf("%w: key origin is not supported", ErrMalformedDescriptor)
	}

	key, err := hdkeychain.NewKeyFromString(keyText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	if !key.IsForNet(params) {
		return nil, ErrWrongNetwork
	}

	path, err := keys.ParsePath(pathText)
	if err != nil {
		return nil, errors.Join(ErrMalformedDescriptor, err)
	}

	return New(key, path, ranged), nil
}

// String returns descriptor text without checksum.
func (d *Descriptor) String() string {
	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteString(d.key.String())
	sb.WriteString(d.path.Relative())
	if d.ranged {
		sb.WriteString(wildcard)
	}
	sb.WriteString(suffix)

	return sb.String()
}

// StringWithChecksum returns descriptor text with "#checksum" suffix.
func (d *Descriptor) StringWithChecksum() string {
	body := d.String()
	// body only consists of base58 and path characters.
	checksum, _ := Checksum(body)

	return body + "#" + checksum
}

// IsPrivate returns true if descriptor holds private key material.
func (d *Descriptor) IsPrivate() bool {
	return d.key.IsPrivate()
}

// IsRanged returns true for descriptors ending with wildcard.
func (d *Descriptor) IsRanged() bool {
	return d.ranged
}

// IsForNet returns true if descriptor key belongs to network.
func (d *Descriptor) IsForNet(params *chaincfg.Params) bool {
	return d.key.IsForNet(params)
}

// Path returns derivation path from descriptor key to the key at index.
func (d *Descriptor) Path(index uint32) (keys.Path, error) {
	if !d.ranged {
		if index != 0 {
			return nil, ErrNotRanged
		}

		return append(keys.Path{}, d.path...), nil
	}

	return d.path.Child(index), nil
}

// Fingerprint returns fingerprint of descriptor key.
func (d *Descriptor) Fingerprint() (uint32, error) {
	return keys.Fingerprint(d.key)
}

// Key derives extended key at index.
func (d *Descriptor) Key(index uint32) (*hdkeychain.ExtendedKey, error) {
	path, err := d.Path(index)
	if err != nil {
		return nil, err
	}

	return keys.Derive(d.key, path)
}

// DeriveKey derives extended key at path relative to descriptor key, path must
// continue the descriptor path.
func (d *Descriptor) DeriveKey(path keys.Path) (*hdkeychain.ExtendedKey, error) {
	if len(path) < len(d.path) {
		return nil, ErrForeignPath
	}
	for i, step := range d.path {
		if path[i] != step {
			return nil, ErrForeignPath
		}
	}
	if (!d.ranged && len(path) != len(d.path)) || (d.ranged && len(path) != len(d.path)+1) {
		return nil, ErrForeignPath
	}

	return keys.Derive(d.key, path)
}

// PubKey returns compressed public key at index.
func (d *Descriptor) PubKey(index uint32) ([]byte, error) {
	key, err := d.Key(index)
	if err != nil {
		return nil, err
	}

	pubKey, err := keys.PublicKey(key)
	if err != nil {
		return nil, err
	}

	return pubKey.SerializeCompressed(), nil
}

// Script returns P2WPKH locking script at index.
func (d *Descriptor) Script(index uint32) ([]byte, error) {
	pubKey, err := d.PubKey(index)
	if err != nil {
		return nil, err
	}

	return utils.NewWitnessPubKeyHashScript(pubKey)
}

// Public returns descriptor without private key material. Hardened part of the
// path is derived first, so the resulting descriptor produces the same scripts.
func (d *Descriptor) Public() (*Descriptor, error) {
	if !d.IsPrivate() {
		return New(d.key, d.path, d.ranged), nil
	}

	split := d.path.LastHardened() + 1
	derived, err := keys.Derive(d.key, d.path[:split])
	if err != nil {
		return nil, err
	}

	public, err := keys.ToPublic(derived)
	if err != nil {
		return nil, err
	}

	return New(public, d.path[split:], d.ranged), nil
}
