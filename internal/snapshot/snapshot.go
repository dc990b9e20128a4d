// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/spf13/afero"
	"github.com/tyler-smith/go-bip39"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/combiner"
	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
)

const (
	// MnemonicExt is the extension of seed phrase files.
	MnemonicExt = ".mnemonic"
	// UtxoExt is the extension of utxo snapshot files.
	UtxoExt = ".json"

	filePerm = 0o600
	dirPerm  = 0o700
)

// ErrEmptyDir defines that directory has no files of expected kind.
var ErrEmptyDir = errors.New("no files found")

// Store reads and writes session files under root directory:
//
//	<root>/mixer/mnemonic/*.mnemonic  coordinator seed phrase, the first file is used.
//	<root>/client/mnemonic/*.mnemonic participants seed phrases.
//	<root>/client/utxos/<n>.json      participants utxo snapshots.
//	<root>/psbt.txt                   hex encoded psbt.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore is a constructor for Store.
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// NewOsStore returns Store over operating system file system.
func NewOsStore(root string) *Store {
	return NewStore(afero.NewOsFs(), root)
}

// MixerMnemonicDir returns directory of coordinator seed phrase.
func (s *Store) MixerMnemonicDir() string { return filepath.Join(s.root, "mixer", "mnemonic") }

// ClientMnemonicDir returns directory of participants seed phrases.
func (s *Store) ClientMnemonicDir() string { return filepath.Join(s.root, "client", "mnemonic") }

// ClientUtxoDir returns directory of participants utxo snapshots.
func (s *Store) ClientUtxoDir() string { return filepath.Join(s.root, "client", "utxos") }

// PSBTPath returns path of the psbt file.
func (s *Store) PSBTPath() string { return filepath.Join(s.root, "psbt.txt") }

// ReadMnemonic reads and validates seed phrase file.
func (s *Store) ReadMnemonic(path string) (string, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return "", err
	}

	phrase := keys.NormalizeMnemonic(string(data))
	if !bip39.IsMnemonicValid(phrase) {
		return "", fmt.Errorf("%s: %w", path, bitcoin.ErrInvalidMnemonic)
	}

	return phrase, nil
}

// WriteMnemonic writes seed phrase into path, parent directories are created.
func (s *Store) WriteMnemonic(path, phrase string) error {
	return s.write(path, []byte(keys.NormalizeMnemonic(phrase)+"\n"))
}

// ReadMnemonicDir reads every seed phrase file of dir in lexical order.
func (s *Store) ReadMnemonicDir(dir string) ([]string, error) {
	paths, err := s.list(dir, MnemonicExt)
	if err != nil {
		return nil, err
	}

	phrases := make([]string, 0, len(paths))
	for _, path := range paths {
		phrase, err := s.ReadMnemonic(path)
		if err != nil {
			return nil, err
		}

		phrases = append(phrases, phrase)
	}

	return phrases, nil
}

// ReadMixerMnemonic returns coordinator seed phrase.
func (s *Store) ReadMixerMnemonic() (string, error) {
	paths, err := s.list(s.MixerMnemonicDir(), MnemonicExt)
	if err != nil {
		return "", err
	}

	return s.ReadMnemonic(paths[0])
}

// ReadUtxo reads utxo snapshot file.
func (s *Store) ReadUtxo(path string) (bitcoin.UTXO, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return bitcoin.UTXO{}, err
	}

	var utxo bitcoin.UTXO
	if err = json.Unmarshal(data, &utxo); err != nil {
		return bitcoin.UTXO{}, fmt.Errorf("%s: %w", path, err)
	}

	return utxo, nil
}

// ReadUtxoDir reads every utxo snapshot of dir in lexical order.
func (s *Store) ReadUtxoDir(dir string) ([]bitcoin.UTXO, error) {
	paths, err := s.list(dir, UtxoExt)
	if err != nil {
		return nil, err
	}

	utxos := make([]bitcoin.UTXO, 0, len(paths))
	for _, path := range paths {
		utxo, err := s.ReadUtxo(path)
		if err != nil {
			return nil, err
		}

		utxos = append(utxos, utxo)
	}

	return utxos, nil
}

// WriteUtxo writes utxo snapshot of participant with index into client utxos directory.
func (s *Store) WriteUtxo(index int, utxo bitcoin.UTXO) (string, error) {
	data, err := json.Marshal(utxo)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.ClientUtxoDir(), strconv.Itoa(index)+UtxoExt)

	return path, s.write(path, data)
}

// ReadPSBT reads hex encoded psbt file.
func (s *Store) ReadPSBT() (*psbt.Packet, error) {
	data, err := afero.ReadFile(s.fs, s.PSBTPath())
	if err != nil {
		return nil, err
	}

	return combiner.Decode(string(data))
}

// WritePSBT writes packet as hex into psbt file.
func (s *Store) WritePSBT(packet *psbt.Packet) error {
	encoded, err := combiner.Encode(packet)
	if err != nil {
		return err
	}

	return s.write(s.PSBTPath(), []byte(encoded))
}

// list returns sorted paths of regular files of dir with extension.
func (s *Store) list(dir, ext string) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDir, dir)
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, info := range infos {
		name := info.Name()
		if info.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ext {
			continue
		}

		paths = append(paths, filepath.Join(dir, name))
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s/*%s", ErrEmptyDir, dir, ext)
	}

	return paths, nil
}

func (s *Store) write(path string, data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}

	return afero.WriteFile(s.fs, path, data, os.FileMode(filePerm))
}
