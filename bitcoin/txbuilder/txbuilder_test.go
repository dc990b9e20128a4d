// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/chain"
	"github.com/BoostyLabs/coinjoin/bitcoin/txbuilder"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
	"github.com/BoostyLabs/coinjoin/bitcoin/wallet"
)

const (
	denomination = btcutil.Amount(5000)
	outputs      = 5
	feeRate      = btcutil.Amount(10)
)

var (
	network       = &chaincfg.RegressionNetParams
	mixerMnemonic = strings.Repeat("abandon ", 11) + "about"
)

func TestSelectUTXO(t *testing.T) {
	utxos := []bitcoin.UTXO{ // sorted by value desc.
		{Value: 150000},
		{Value: 75000},
		{Value: 25000},
		{Value: 10000},
		{Value: 5000},
		{Value: 546},
	}

	tests := []struct {
		minAmount     btcutil.Amount
		totalAmount   btcutil.Amount
		requiredUTXOs int
		utxos         []*bitcoin.UTXO
		err           error
	}{
		{150000, 150000, 1, []*bitcoin.UTXO{&utxos[0]}, nil},
		{149000, 150000, 1, []*bitcoin.UTXO{&utxos[0]}, nil},
		{75000, 75000, 1, []*bitcoin.UTXO{&utxos[1]}, nil},
		{74000, 75000, 1, []*bitcoin.UTXO{&utxos[1]}, nil},
		{150000, 150546, 2, []*bitcoin.UTXO{&utxos[0], &utxos[5]}, nil},
		{10020, 25546, 2, []*bitcoin.UTXO{&utxos[2], &utxos[5]}, nil},
		{11000, 30546, 3, []*bitcoin.UTXO{&utxos[2], &utxos[5], &utxos[4]}, nil},
		{255000, 0, 2, nil, bitcoin.ErrInsufficientFunds},
		{255000, 260000, 4, []*bitcoin.UTXO{&utxos[0], &utxos[1], &utxos[2], &utxos[3]}, nil},
		{255000, 260546, 5, []*bitcoin.UTXO{&utxos[0], &utxos[1], &utxos[2], &utxos[3], &utxos[5]}, nil},
		{100, 265546, 6, []*bitcoin.UTXO{&utxos[5], &utxos[4], &utxos[3], &utxos[2], &utxos[1], &utxos[0]}, nil},
		{200000, 0, 1, nil, bitcoin.ErrInsufficientFunds},
		{200000, 0, 8, nil, bitcoin.ErrInvalidUTXOAmount},
		{200000, 0, 0, nil, bitcoin.ErrInvalidUTXOAmount},
	}

	valueFn := func(utxo *bitcoin.UTXO) btcutil.Amount { return utxo.Value }
	for _, test := range tests {
		usedUTXOs, totalAmount, err := txbuilder.SelectUTXO(utxos, valueFn, test.minAmount, test.requiredUTXOs, bitcoin.ErrInsufficientFunds)
		require.Equal(t, test.err, err, test.minAmount.String())
		require.Equal(t, test.utxos, usedUTXOs, test.minAmount.String())
		require.Equal(t, test.totalAmount, totalAmount, test.minAmount.String())
	}
}

func TestPrepareUTXOs(t *testing.T) {
	txOuts := placeholderOutputs(outputs)
	utxos := []bitcoin.UTXO{{Value: 30000}, {Value: 20000}, {Value: 10000}}

	t.Run("single utxo", func(t *testing.T) {
		used, total, fee, vsize, err := txbuilder.PrepareUTXOs(utxos, 0, txOuts, 25000, feeRate)
		require.NoError(t, err)
		require.Equal(t, []*bitcoin.UTXO{&utxos[0]}, used)
		require.Equal(t, btcutil.Amount(30000), total)
		require.Equal(t, txbuilder.EstimateVirtualSize(1, txOuts, true), vsize)
		require.Equal(t, feeRate*btcutil.Amount(vsize), fee)
	})

	t.Run("more inputs", func(t *testing.T) {
		used, total, fee, vsize, err := txbuilder.PrepareUTXOs(utxos, 2, txOuts, 40000, feeRate)
		require.NoError(t, err)
		require.Len(t, used, 2)
		require.Equal(t, btcutil.Amount(50000), total)
		require.Equal(t, txbuilder.EstimateVirtualSize(4, txOuts, true), vsize)
		require.Equal(t, feeRate*btcutil.Amount(vsize), fee)
	})

	t.Run("insufficient", func(t *testing.T) {
		_, _, _, _, err := txbuilder.PrepareUTXOs(utxos, 0, txOuts, 60000, feeRate)
		require.ErrorIs(t, err, bitcoin.ErrInsufficientFunds)

		var insufficient *txbuilder.InsufficientError
		require.True(t, errors.As(err, &insufficient))
		require.Equal(t, btcutil.Amount(60000), insufficient.Have)
		require.Equal(t, 60000+feeRate*btcutil.Amount(txbuilder.EstimateVirtualSize(3, txOuts, true)), insufficient.Need)
	})

	t.Run("no utxos", func(t *testing.T) {
		_, _, _, _, err := txbuilder.PrepareUTXOs(nil, 0, txOuts, 1, feeRate)
		require.ErrorIs(t, err, bitcoin.ErrInsufficientFunds)
	})
}

func TestEstimateVirtualSize(t *testing.T) {
	txOuts := placeholderOutputs(outputs)

	withChange := txbuilder.EstimateVirtualSize(2, txOuts, true)
	withoutChange := txbuilder.EstimateVirtualSize(2, txOuts, false)
	require.Greater(t, withChange, withoutChange)
	require.Greater(t, txbuilder.EstimateVirtualSize(3, txOuts, true), withChange)
}

func TestBuildCoinJoinPSBT(t *testing.T) {
	txBuilder := txbuilder.NewTxBuilder(network)

	t.Run("foreign inputs credited to change", func(t *testing.T) {
		mixer, _ := newMixer(t, 100000, 50000)
		foreign := foreignInputs(t, 5, 6000, false)

		result, err := txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     mixer,
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
			ForeignInputs:   foreign,
		})
		require.NoError(t, err)

		tx := result.Packet.UnsignedTx
		require.Len(t, tx.TxIn, 6)
		require.Len(t, tx.TxOut, outputs+1)
		require.Equal(t, []int{0, 1, 2, 3, 4}, result.ForeignInputs)
		require.Equal(t, []int{5}, result.CoordinatorInputs)
		require.Equal(t, outputs, result.ChangeIndex)
		require.Equal(t, feeRate*btcutil.Amount(result.VSize), result.Fee)

		for i, in := range foreign {
			require.Equal(t, in.PreviousOutPoint(), tx.TxIn[i].PreviousOutPoint)
		}

		// the smallest utxo covering outputs and fee is picked.
		require.Equal(t, int64(50000), result.Packet.Inputs[5].WitnessUtxo.Value)
		require.Len(t, result.Packet.Inputs[5].Bip32Derivation, 1)
		for i := range result.Packet.Inputs {
			require.NotNil(t, result.Packet.Inputs[i].WitnessUtxo)
			require.Equal(t, txscript.SigHashAll, result.Packet.Inputs[i].SighashType)
		}

		for i := 0; i < outputs; i++ {
			require.Equal(t, int64(denomination), tx.TxOut[i].Value)

			script, err := mixer.Descriptor(bitcoin.KeychainExternal).Script(uint32(i + 2))
			require.NoError(t, err)
			require.Equal(t, script, tx.TxOut[i].PkScript)
		}

		changeScript, err := mixer.Descriptor(bitcoin.KeychainInternal).Script(0)
		require.NoError(t, err)
		require.Equal(t, changeScript, tx.TxOut[result.ChangeIndex].PkScript)

		requireConservation(t, result)

		roles, err := txbuilder.InputRoleIndexes(result.Packet)
		require.NoError(t, err)
		require.Equal(t, map[txbuilder.InputsHelpingKey][]int{
			txbuilder.ForeignInputsHelpingKey:     {0, 1, 2, 3, 4},
			txbuilder.CoordinatorInputsHelpingKey: {5},
		}, roles)
	})

	t.Run("refund outputs", func(t *testing.T) {
		mixer, _ := newMixer(t, 100000)
		foreign := foreignInputs(t, 2, 7000, true)

		result, err := txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     mixer,
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
			ForeignInputs:   foreign,
		})
		require.NoError(t, err)

		tx := result.Packet.UnsignedTx
		require.Len(t, tx.TxOut, outputs+3)
		for i, in := range foreign {
			refund := tx.TxOut[outputs+i]
			require.Equal(t, in.WitnessUtxo().Value, refund.Value)
			require.Equal(t, in.(*bitcoin.ForeignInput).RefundScript, refund.PkScript)
		}
		require.Equal(t, outputs+2, result.ChangeIndex)

		requireConservation(t, result)
	})

	t.Run("recipients", func(t *testing.T) {
		mixer, _ := newMixer(t, 100000)
		recipient := wire.NewTxOut(int64(denomination), newScript(t))

		result, err := txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     mixer,
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
			Recipients:      []*wire.TxOut{recipient},
		})
		require.NoError(t, err)
		require.Equal(t, recipient.PkScript, result.Packet.UnsignedTx.TxOut[0].PkScript)

		script, err := mixer.Descriptor(bitcoin.KeychainExternal).Script(1)
		require.NoError(t, err)
		require.Equal(t, script, result.Packet.UnsignedTx.TxOut[1].PkScript)
	})

	t.Run("dust change is dropped", func(t *testing.T) {
		txOuts := placeholderOutputs(outputs)
		fee := feeRate * btcutil.Amount(txbuilder.EstimateVirtualSize(1, txOuts, true))
		mixer, _ := newMixer(t, denomination*outputs+fee+100)

		result, err := txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     mixer,
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
		})
		require.NoError(t, err)
		require.Equal(t, -1, result.ChangeIndex)
		require.Len(t, result.Packet.UnsignedTx.TxOut, outputs)
		require.Equal(t, fee+100, result.Fee)
		require.Equal(t, txbuilder.EstimateVirtualSize(1, txOuts, false), result.VSize)

		requireConservation(t, result)
	})

	t.Run("change above dust limit is kept", func(t *testing.T) {
		txOuts := placeholderOutputs(outputs)
		fee := feeRate * btcutil.Amount(txbuilder.EstimateVirtualSize(1, txOuts, true))
		mixer, _ := newMixer(t, denomination*outputs+fee+1000)

		result, err := txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     mixer,
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
		})
		require.NoError(t, err)
		require.Equal(t, outputs, result.ChangeIndex)
		require.Equal(t, int64(1000), result.Packet.UnsignedTx.TxOut[outputs].Value)
		require.Equal(t, fee, result.Fee)

		requireConservation(t, result)
	})

	t.Run("change is never selected", func(t *testing.T) {
		mixer, source := newMixer(t, 1000)
		fundMixer(t, source, mixer, bitcoin.KeychainInternal, 0, 1000000)
		_, err := mixer.Sync(context.Background())
		require.NoError(t, err)

		_, err = txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     mixer,
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
		})
		require.ErrorIs(t, err, bitcoin.ErrInsufficientFunds)

		var insufficient *txbuilder.InsufficientError
		require.True(t, errors.As(err, &insufficient))
		require.Equal(t, btcutil.Amount(1000), insufficient.Have)

		// nothing is reserved on failure.
		next, err := mixer.NewAddress()
		require.NoError(t, err)
		script, err := mixer.Descriptor(bitcoin.KeychainExternal).Script(1)
		require.NoError(t, err)
		require.Equal(t, script, next)
	})

	t.Run("nothing is reserved when input preparation fails", func(t *testing.T) {
		mixer, _ := newMixer(t, 100000)

		_, err := txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     foreignKeyWallet{mixer},
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
			ForeignInputs:   foreignInputs(t, 2, 6000, false),
		})
		require.ErrorIs(t, err, txbuilder.ErrPSBTInputBuilder)

		next, err := mixer.NewAddress()
		require.NoError(t, err)
		script, err := mixer.Descriptor(bitcoin.KeychainExternal).Script(1)
		require.NoError(t, err)
		require.Equal(t, script, next)

		change, err := mixer.ChangeScript()
		require.NoError(t, err)
		script, err = mixer.Descriptor(bitcoin.KeychainInternal).Script(0)
		require.NoError(t, err)
		require.Equal(t, script, change)
	})

	t.Run("validation", func(t *testing.T) {
		mixer, _ := newMixer(t, 100000)
		foreign := foreignInputs(t, 1, 6000, false)

		tests := []struct {
			name   string
			params txbuilder.CoinJoinParams
			err    error
		}{
			{"no outputs", txbuilder.CoinJoinParams{Coordinator: mixer, Denomination: denomination}, txbuilder.ErrInvalidOutputsCount},
			{"dust denomination", txbuilder.CoinJoinParams{Coordinator: mixer, Denomination: 100, Outputs: outputs}, txbuilder.ErrDustDenomination},
			{"denomination below relay dust limit", txbuilder.CoinJoinParams{Coordinator: mixer, Denomination: 300, Outputs: outputs}, txbuilder.ErrDustDenomination},
			{"negative fee rate", txbuilder.CoinJoinParams{Coordinator: mixer, Denomination: denomination, Outputs: outputs, SatoshiPerVByte: -1}, txbuilder.ErrInvalidFeeRate},
			{"too many recipients", txbuilder.CoinJoinParams{
				Coordinator: mixer, Denomination: denomination, Outputs: 1,
				Recipients: []*wire.TxOut{wire.NewTxOut(5000, newScript(t)), wire.NewTxOut(5000, newScript(t))},
			}, txbuilder.ErrTooManyRecipients},
			{"denomination mismatch", txbuilder.CoinJoinParams{
				Coordinator: mixer, Denomination: denomination, Outputs: outputs,
				Recipients: []*wire.TxOut{wire.NewTxOut(4999, newScript(t))},
			}, bitcoin.ErrDenominationMismatch},
			{"invalid recipient", txbuilder.CoinJoinParams{
				Coordinator: mixer, Denomination: denomination, Outputs: outputs,
				Recipients: []*wire.TxOut{wire.NewTxOut(5000, []byte{txscript.OP_RETURN})},
			}, txbuilder.ErrInvalidRecipient},
			{"duplicate input", txbuilder.CoinJoinParams{
				Coordinator: mixer, Denomination: denomination, Outputs: outputs,
				ForeignInputs: []bitcoin.InputMetadata{foreign[0], foreign[0]},
			}, txbuilder.ErrDuplicateInput},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				result, err := txBuilder.BuildCoinJoinPSBT(test.params)
				require.ErrorIs(t, err, test.err)
				require.Nil(t, result)
			})
		}
	})

	t.Run("non witness foreign input", func(t *testing.T) {
		mixer, _ := newMixer(t, 100000)

		_, err := txBuilder.BuildCoinJoinPSBT(txbuilder.CoinJoinParams{
			Coordinator:     mixer,
			Denomination:    denomination,
			Outputs:         outputs,
			SatoshiPerVByte: feeRate,
			ForeignInputs: []bitcoin.InputMetadata{&bitcoin.ForeignInput{
				OutPoint: wire.OutPoint{Hash: chainhash.HashH([]byte("p2pkh")), Index: 1},
				TxOut:    wire.NewTxOut(6000, append([]byte{txscript.OP_DUP, txscript.OP_HASH160, 0x14}, make([]byte, 22)...)),
			}},
		})
		require.ErrorIs(t, err, txbuilder.ErrUnsupportedScript)
	})
}

// foreignKeyWallet describes its inputs with derivation of an unrelated key.
type foreignKeyWallet struct {
	*wallet.Wallet
}

func (w foreignKeyWallet) SpendableInputMetadata(utxo bitcoin.UTXO) (bitcoin.InputMetadata, error) {
	meta, err := w.Wallet.SpendableInputMetadata(utxo)
	if err != nil {
		return nil, err
	}

	signable := *meta.(*bitcoin.SignableInput)
	signable.Derivation.PubKey = make([]byte, 33)

	return &signable, nil
}

func newMixer(t *testing.T, values ...btcutil.Amount) (*wallet.Wallet, *chain.Memory) {
	source := chain.NewMemory()

	mixer, err := wallet.FromMnemonic(mixerMnemonic, network, wallet.WithSource(source))
	require.NoError(t, err)

	for i, value := range values {
		fundMixer(t, source, mixer, bitcoin.KeychainExternal, uint32(i), value)
	}

	_, err = mixer.Sync(context.Background())
	require.NoError(t, err)

	return mixer, source
}

func fundMixer(t *testing.T, source *chain.Memory, w *wallet.Wallet, keychain bitcoin.Keychain, index uint32, value btcutil.Amount) {
	script, err := w.Descriptor(keychain).Script(index)
	require.NoError(t, err)

	hash := chainhash.HashH(append(script, byte(index), byte(keychain)))
	source.Add(script, chain.Unspent{OutPoint: wire.OutPoint{Hash: hash}, Value: value, Height: 1})
}

func foreignInputs(t *testing.T, count int, value int64, withRefund bool) []bitcoin.InputMetadata {
	inputs := make([]bitcoin.InputMetadata, count)
	for i := range inputs {
		script := newScript(t)

		input := &bitcoin.ForeignInput{
			OutPoint: wire.OutPoint{Hash: chainhash.HashH(script), Index: uint32(i)},
			TxOut:    wire.NewTxOut(value, script),
		}
		if withRefund {
			input.RefundScript = newScript(t)
		}

		inputs[i] = input
	}

	return inputs
}

func newScript(t *testing.T) []byte {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return utils.MustWitnessPubKeyHashScript(privKey.PubKey().SerializeCompressed())
}

func placeholderOutputs(count int) []*wire.TxOut {
	txOuts := make([]*wire.TxOut, count)
	for i := range txOuts {
		txOuts[i] = wire.NewTxOut(int64(denomination), make([]byte, 22))
	}

	return txOuts
}

func requireConservation(t *testing.T, result *txbuilder.CoinJoinResult) {
	var in, out int64
	for _, input := range result.Packet.Inputs {
		in += input.WitnessUtxo.Value
	}
	for _, output := range result.Packet.UnsignedTx.TxOut {
		out += output.Value
	}

	require.Equal(t, in, out+int64(result.Fee))
}
