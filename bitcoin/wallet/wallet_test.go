// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet_test

import (
	"context"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/chain"
	"github.com/BoostyLabs/coinjoin/bitcoin/descriptor"
	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
	"github.com/BoostyLabs/coinjoin/bitcoin/wallet"
)

var (
	network       = &chaincfg.RegressionNetParams
	mixerMnemonic = strings.Repeat("abandon ", 11) + "about"
	aliceMnemonic = "legal winner thank year wave sausage worth useful legal winner thank yellow"
)

func fund(t *testing.T, source *chain.Memory, w *wallet.Wallet, keychain bitcoin.Keychain, index uint32, value btcutil.Amount) wire.OutPoint {
	script, err := w.Descriptor(keychain).Script(index)
	require.NoError(t, err)

	hash := chainhash.HashH(append(script, byte(index), byte(keychain)))
	outpoint := wire.OutPoint{Hash: hash, Index: 0}
	source.Add(script, chain.Unspent{OutPoint: outpoint, Value: value, Height: 1})

	return outpoint
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	source := chain.NewMemory()

	w, err := wallet.FromMnemonic(mixerMnemonic, network, wallet.WithSource(source), wallet.WithGap(5), wallet.WithName("mixer"))
	require.NoError(t, err)
	require.Equal(t, "mixer", w.Name())
	require.False(t, w.IsWatchOnly())

	fund(t, source, w, bitcoin.KeychainExternal, 0, 100000)
	fund(t, source, w, bitcoin.KeychainExternal, 3, 50000)
	fund(t, source, w, bitcoin.KeychainInternal, 0, 7000)
	// beyond gap of five unused scripts after index 3.
	fund(t, source, w, bitcoin.KeychainExternal, 9, 1)

	utxos, err := w.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, utxos, 3)
	require.Equal(t, btcutil.Amount(157000), w.Balance())
	require.Len(t, w.Utxos(), 3)

	spendable := w.SpendableUtxos()
	require.Len(t, spendable, 2)
	for _, utxo := range spendable {
		require.Equal(t, bitcoin.KeychainExternal, utxo.Keychain)
	}

	next, err := w.NewAddress()
	require.NoError(t, err)
	expected, err := w.Descriptor(bitcoin.KeychainExternal).Script(4)
	require.NoError(t, err)
	require.Equal(t, expected, next)

	change, err := w.ChangeScript()
	require.NoError(t, err)
	expected, err = w.Descriptor(bitcoin.KeychainInternal).Script(1)
	require.NoError(t, err)
	require.Equal(t, expected, change)

	address, err := w.Address(next)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(address, "bcrt1q"))

	// reserved index widens next scan, so index 9 is found now.
	utxos, err = w.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, utxos, 4)
}

func TestSyncWithoutSource(t *testing.T) {
	w, err := wallet.FromMnemonic(mixerMnemonic, network)
	require.NoError(t, err)

	_, err = w.Sync(context.Background())
	require.ErrorIs(t, err, wallet.ErrNoSource)

	_, err = w.Broadcast(context.Background(), wire.NewMsgTx(wire.TxVersion))
	require.ErrorIs(t, err, wallet.ErrNoSource)
}

func TestInputMetadata(t *testing.T) {
	ctx := context.Background()
	source := chain.NewMemory()

	mixer, err := wallet.FromMnemonic(mixerMnemonic, network, wallet.WithSource(source))
	require.NoError(t, err)
	alice, err := wallet.FromMnemonic(aliceMnemonic, network, wallet.WithSource(source))
	require.NoError(t, err)

	fund(t, source, mixer, bitcoin.KeychainExternal, 2, 100000)
	fund(t, source, alice, bitcoin.KeychainExternal, 0, 20000)

	mixerUtxos, err := mixer.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, mixerUtxos, 1)

	aliceUtxos, err := alice.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, aliceUtxos, 1)

	t.Run("spendable", func(t *testing.T) {
		meta, err := mixer.SpendableInputMetadata(mixerUtxos[0])
		require.NoError(t, err)

		signable, ok := meta.(*bitcoin.SignableInput)
		require.True(t, ok)
		require.Equal(t, mixerUtxos[0].OutPoint, signable.PreviousOutPoint())
		require.Equal(t, mixerUtxos[0].Script, signable.WitnessUtxo().PkScript)
		require.EqualValues(t, 100000, signable.WitnessUtxo().Value)
		require.Equal(t, "m/84'/1'/0'/0/2", keys.Path(signable.Derivation.Path).String())
		require.Len(t, signable.Derivation.PubKey, 33)

		master, err := keys.DeriveMaster(mixerMnemonic, network)
		require.NoError(t, err)
		fingerprint, err := keys.Fingerprint(master)
		require.NoError(t, err)
		require.Equal(t, fingerprint, signable.Derivation.MasterKeyFingerprint)

		_, err = mixer.SpendableInputMetadata(aliceUtxos[0])
		require.ErrorIs(t, err, bitcoin.ErrUtxoNotOwned)
	})

	t.Run("foreign", func(t *testing.T) {
		meta, err := alice.ForeignInputMetadata(aliceUtxos[0])
		require.NoError(t, err)

		foreign, ok := meta.(*bitcoin.ForeignInput)
		require.True(t, ok)
		require.Equal(t, aliceUtxos[0].OutPoint, foreign.PreviousOutPoint())
		require.EqualValues(t, 20000, foreign.WitnessUtxo().Value)
		require.Nil(t, foreign.RefundScript)

		_, err = alice.ForeignInputMetadata(mixerUtxos[0])
		require.ErrorIs(t, err, bitcoin.ErrUtxoNotOwned)
	})

	t.Run("watch only", func(t *testing.T) {
		key, err := wallet.FirstReceivingKey(aliceMnemonic, network)
		require.NoError(t, err)

		watcher, err := wallet.FromPublicKey(key, network, wallet.WithSource(source))
		require.NoError(t, err)
		require.True(t, watcher.IsWatchOnly())

		utxos, err := watcher.Sync(ctx)
		require.NoError(t, err)
		require.Len(t, utxos, 1)
		require.Equal(t, aliceUtxos[0].OutPoint, utxos[0].OutPoint)
		require.Equal(t, bitcoin.KeychainExternal, utxos[0].Keychain)

		_, err = watcher.SpendableInputMetadata(utxos[0])
		require.ErrorIs(t, err, bitcoin.ErrWatchOnly)

		meta, err := watcher.ForeignInputMetadata(utxos[0])
		require.NoError(t, err)
		require.Equal(t, utxos[0].OutPoint, meta.PreviousOutPoint())

		_, _, err = watcher.Sign(&psbt.Packet{})
		require.ErrorIs(t, err, bitcoin.ErrWatchOnly)

		// single key wallet always returns the same script.
		first, err := watcher.NewAddress()
		require.NoError(t, err)
		second, err := watcher.ChangeScript()
		require.NoError(t, err)
		require.Equal(t, first, second)
		require.Equal(t, utxos[0].Script, first)
	})
}

func TestSign(t *testing.T) {
	ctx := context.Background()
	source := chain.NewMemory()

	mixer, err := wallet.FromMnemonic(mixerMnemonic, network, wallet.WithSource(source))
	require.NoError(t, err)
	alice, err := wallet.FromMnemonic(aliceMnemonic, network, wallet.WithSource(source))
	require.NoError(t, err)

	fund(t, source, mixer, bitcoin.KeychainExternal, 0, 100000)
	fund(t, source, alice, bitcoin.KeychainExternal, 1, 20000)

	mixerUtxos, err := mixer.Sync(ctx)
	require.NoError(t, err)
	aliceUtxos, err := alice.Sync(ctx)
	require.NoError(t, err)

	mixerMeta, err := mixer.SpendableInputMetadata(mixerUtxos[0])
	require.NoError(t, err)
	signable := mixerMeta.(*bitcoin.SignableInput)

	out, err := mixer.NewAddress()
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&mixerUtxos[0].OutPoint, nil, nil))
	tx.AddTxIn(wire.NewTxIn(&aliceUtxos[0].OutPoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(110000, out))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)
	packet.Inputs[0].WitnessUtxo = mixerUtxos[0].TxOut()
	packet.Inputs[0].SighashType = txscript.SigHashAll
	packet.Inputs[0].Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               signable.Derivation.PubKey,
		MasterKeyFingerprint: signable.Derivation.MasterKeyFingerprint,
		Bip32Path:            signable.Derivation.Path,
	}}
	packet.Inputs[1].WitnessUtxo = aliceUtxos[0].TxOut()
	packet.Inputs[1].SighashType = txscript.SigHashAll

	mixerSigned, mixerResult, err := mixer.Sign(packet)
	require.NoError(t, err)
	require.Equal(t, wallet.SignResult{InputsSigned: 1, InputsSkipped: 1, Signed: []int{0}}, mixerResult)
	require.Len(t, mixerSigned.Inputs[0].PartialSigs, 1)
	require.Empty(t, mixerSigned.Inputs[1].PartialSigs)
	require.Empty(t, packet.Inputs[0].PartialSigs)

	aliceSigned, aliceResult, err := alice.Sign(packet)
	require.NoError(t, err)
	require.Equal(t, wallet.SignResult{InputsSigned: 1, InputsSkipped: 1, Signed: []int{1}}, aliceResult)
	require.Empty(t, aliceSigned.Inputs[0].PartialSigs)
	require.Len(t, aliceSigned.Inputs[1].PartialSigs, 1)

	// signing is deterministic.
	again, _, err := alice.Sign(packet)
	require.NoError(t, err)
	require.Equal(t, aliceSigned.Inputs[1].PartialSigs, again.Inputs[1].PartialSigs)
}

func TestNew(t *testing.T) {
	master, err := keys.DeriveMaster(mixerMnemonic, &chaincfg.MainNetParams)
	require.NoError(t, err)

	_, err = wallet.New(wallet.Params{
		External: descriptor.BIP84(master, &chaincfg.MainNetParams, 0, keys.ChangeExternal),
		Internal: descriptor.BIP84(master, &chaincfg.MainNetParams, 0, keys.ChangeInternal),
		Network:  network,
	})
	require.ErrorIs(t, err, wallet.ErrNetworkMismatch)

	_, err = wallet.New(wallet.Params{Network: network})
	require.Error(t, err)

	_, err = wallet.FromMnemonic("abandon abandon", network)
	require.ErrorIs(t, err, bitcoin.ErrInvalidMnemonic)

	account, err := keys.Derive(master, keys.Path{keys.Hardened(84), keys.Hardened(0), keys.Hardened(0)})
	require.NoError(t, err)
	accountPub, err := keys.ToPublic(account)
	require.NoError(t, err)

	watcher, err := wallet.FromExtendedKey(accountPub, &chaincfg.MainNetParams)
	require.NoError(t, err)
	require.True(t, watcher.IsWatchOnly())

	script, err := watcher.NewAddress()
	require.NoError(t, err)
	address, err := watcher.Address(script)
	require.NoError(t, err)
	require.Equal(t, "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu", address)
}

func TestBroadcast(t *testing.T) {
	source := chain.NewMemory()
	w, err := wallet.FromMnemonic(mixerMnemonic, network, wallet.WithSource(source))
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	txid, err := w.Broadcast(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), *txid)
	require.Len(t, source.Broadcasted(), 1)
}
