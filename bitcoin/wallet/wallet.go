// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

// Package wallet implements descriptor based single signature wallets able to
// describe their outputs for coinjoin transactions and sign their own inputs.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/chain"
	"github.com/BoostyLabs/coinjoin/bitcoin/descriptor"
	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
	"github.com/BoostyLabs/coinjoin/internal/numbers"
)

// DefaultGap is amount of consecutive unfunded scripts scanned past the last funded one.
const DefaultGap = 20

var (
	// ErrNoSource defines that wallet was created without chain source.
	ErrNoSource = errors.New("wallet has no chain source")
	// ErrNetworkMismatch defines that descriptors belong to another network.
	ErrNetworkMismatch = errors.New("descriptor network mismatch")
)

// Params defines wallet parameters.
type Params struct {
	Name     string
	External *descriptor.Descriptor
	Internal *descriptor.Descriptor
	Network  *chaincfg.Params
	Source   chain.Source
	Gap      uint32
}

// Option configures wallets created with From* constructors.
type Option func(*Params)

// WithSource sets chain source.
func WithSource(source chain.Source) Option {
	return func(p *Params) {
		p.Source = source
	}
}

// WithGap sets lookahead gap.
func WithGap(gap uint32) Option {
	return func(p *Params) {
		p.Gap = gap
	}
}

// WithName sets wallet name used in logs.
func WithName(name string) Option {
	return func(p *Params) {
		p.Name = name
	}
}

// location is position of a script inside the wallet.
type location struct {
	keychain bitcoin.Keychain
	index    uint32
}

// Wallet is a pair of descriptors with chain view.
type Wallet struct {
	name        string
	descriptors [2]*descriptor.Descriptor
	network     *chaincfg.Params
	source      chain.Source
	gap         uint32

	mu      sync.Mutex
	next    [2]uint32
	derived [2]uint32
	scripts map[string]location
	utxos   []bitcoin.UTXO
}

// New creates wallet from params.
func New(params Params) (*Wallet, error) {
	if params.External == nil || params.Internal == nil {
		return nil, errors.New("both descriptors are required")
	}
	if params.Network == nil {
		return nil, errors.New("network is required")
	}
	if !params.External.IsForNet(params.Network) || !params.Internal.IsForNet(params.Network) {
		return nil, ErrNetworkMismatch
	}
	if params.Gap == 0 {
		params.Gap = DefaultGap
	}

	return &Wallet{
		name:        params.Name,
		descriptors: [2]*descriptor.Descriptor{params.External, params.Internal},
		network:     params.Network,
		source:      params.Source,
		gap:         params.Gap,
		scripts:     make(map[string]location),
	}, nil
}

// FromMnemonic creates private BIP-84 wallet (account 0) from seed phrase.
func FromMnemonic(phrase string, network *chaincfg.Params, opts ...Option) (*Wallet, error) {
	master, err := keys.DeriveMaster(phrase, network)
	if err != nil {
		return nil, err
	}

	return FromExtendedKey(master, network, opts...)
}

// FromExtendedKey creates wallet from extended key. Private keys are treated as
// master keys and get BIP-84 account 0 descriptors, public keys are treated as
// account keys with key/0/* and key/1/* descriptors.
func FromExtendedKey(key *hdkeychain.ExtendedKey, network *chaincfg.Params, opts ...Option) (*Wallet, error) {
	params := Params{Network: network}
	if key.IsPrivate() {
		params.External = descriptor.BIP84(key, network, 0, keys.ChangeExternal)
		params.Internal = descriptor.BIP84(key, network, 0, keys.ChangeInternal)
	} else {
		params.External = descriptor.New(key, keys.Path{keys.ChangeExternal}, true)
		params.Internal = descriptor.New(key, keys.Path{keys.ChangeInternal}, true)
	}

	for _, opt := range opts {
		opt(&params)
	}

	return New(params)
}

// FromPublicKey creates watch-only wallet tracking the single P2WPKH script of
// key on both keychains.
func FromPublicKey(key *hdkeychain.ExtendedKey, network *chaincfg.Params, opts ...Option) (*Wallet, error) {
	public, err := keys.ToPublic(key)
	if err != nil {
		return nil, err
	}

	single := descriptor.New(public, nil, false)
	params := Params{
		External: single,
		Internal: single,
		Network:  network,
	}
	for _, opt := range opts {
		opt(&params)
	}

	return New(params)
}

// FirstReceivingKey derives public key of the first BIP-84 receiving address of seed phrase.
func FirstReceivingKey(phrase string, network *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	master, err := keys.DeriveMaster(phrase, network)
	if err != nil {
		return nil, err
	}

	key, err := keys.Derive(master, keys.BIP84Path(network, 0, keys.ChangeExternal, 0))
	if err != nil {
		return nil, err
	}

	return keys.ToPublic(key)
}

// Name returns wallet name.
func (w *Wallet) Name() string {
	return w.name
}

// Network returns wallet network params.
func (w *Wallet) Network() *chaincfg.Params {
	return w.network
}

// IsWatchOnly returns true if wallet can not sign.
func (w *Wallet) IsWatchOnly() bool {
	return !w.descriptors[bitcoin.KeychainExternal].IsPrivate() || !w.descriptors[bitcoin.KeychainInternal].IsPrivate()
}

// Descriptor returns descriptor of keychain.
func (w *Wallet) Descriptor(keychain bitcoin.Keychain) *descriptor.Descriptor {
	return w.descriptors[keychain]
}

// NewAddress reserves next external script.
func (w *Wallet) NewAddress() ([]byte, error) {
	return w.reserve(bitcoin.KeychainExternal)
}

// ChangeScript reserves next internal script.
func (w *Wallet) ChangeScript() ([]byte, error) {
	return w.reserve(bitcoin.KeychainInternal)
}

// Address renders script as an address of wallet network.
func (w *Wallet) Address(script []byte) (string, error) {
	return utils.AddressFromScript(w.network, script)
}

// Balance returns total value of synced utxos.
func (w *Wallet) Balance() btcutil.Amount {
	w.mu.Lock()
	defer w.mu.Unlock()

	return numbers.SumBy(w.utxos, func(utxo bitcoin.UTXO) btcutil.Amount { return utxo.Value })
}

// Utxos returns utxos found by last Sync.
func (w *Wallet) Utxos() []bitcoin.UTXO {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]bitcoin.UTXO(nil), w.utxos...)
}

// SpendableUtxos returns synced utxos of external keychain only, change is never spent.
func (w *Wallet) SpendableUtxos() []bitcoin.UTXO {
	w.mu.Lock()
	defer w.mu.Unlock()

	spendable := make([]bitcoin.UTXO, 0, len(w.utxos))
	for _, utxo := range w.utxos {
		if utxo.Keychain == bitcoin.KeychainExternal {
			spendable = append(spendable, utxo)
		}
	}

	return spendable
}

// Owns returns keychain and index of script if it is derived by the wallet.
func (w *Wallet) Owns(script []byte) (bitcoin.Keychain, uint32, bool, error) {
	loc, ok, err := w.lookup(script)

	return loc.keychain, loc.index, ok, err
}

// Broadcast publishes transaction through wallet chain source.
func (w *Wallet) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	if w.source == nil {
		return nil, ErrNoSource
	}

	txid, err := w.source.Broadcast(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("broadcast: %w", err)
	}

	log.WithFields(log.Fields{"wallet": w.name, "txid": txid.String()}).Info("transaction broadcast")
	return txid, nil
}

func (w *Wallet) reserve(keychain bitcoin.Keychain) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	index := w.next[keychain]
	if w.descriptors[keychain].IsRanged() {
		w.next[keychain]++
	} else {
		index = 0
	}

	return w.scriptAt(keychain, index)
}

// scriptAt derives and caches script, must be called with mu held.
func (w *Wallet) scriptAt(keychain bitcoin.Keychain, index uint32) ([]byte, error) {
	script, err := w.descriptors[keychain].Script(index)
	if err != nil {
		return nil, err
	}

	key := hex.EncodeToString(script)
	if _, ok := w.scripts[key]; !ok {
		w.scripts[key] = location{keychain: keychain, index: index}
	}
	if index >= w.derived[keychain] {
		w.derived[keychain] = index + 1
	}

	return script, nil
}

// lookup finds script location, deriving the lookahead window if needed.
func (w *Wallet) lookup(script []byte) (location, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := hex.EncodeToString(script)
	if loc, ok := w.scripts[key]; ok {
		return loc, true, nil
	}

	for _, keychain := range []bitcoin.Keychain{bitcoin.KeychainExternal, bitcoin.KeychainInternal} {
		limit := w.next[keychain] + w.gap
		if !w.descriptors[keychain].IsRanged() {
			limit = 1
		}

		for index := w.derived[keychain]; index < limit; index++ {
			if _, err := w.scriptAt(keychain, index); err != nil {
				return location{}, false, err
			}
		}
	}

	loc, ok := w.scripts[key]
	return loc, ok, nil
}
