// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	log "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
	"github.com/BoostyLabs/coinjoin/internal/numbers"
)

const (
	// txVersion defines transaction version for this builder.
	txVersion int32 = 2
	// signHashType define signature hash type for input signing.
	signHashType = txscript.SigHashAll
)

var (
	// ErrInvalidOutputsCount defines that requested amount of denominated outputs is not positive.
	ErrInvalidOutputsCount = errors.New("outputs count must be positive")
	// ErrDustDenomination defines that denomination is below dust threshold.
	ErrDustDenomination = errors.New("denomination is dust")
	// ErrInvalidFeeRate defines that fee rate is negative.
	ErrInvalidFeeRate = errors.New("fee rate must not be negative")
	// ErrTooManyRecipients defines that more recipients than outputs are supplied.
	ErrTooManyRecipients = errors.New("more recipients than outputs")
	// ErrDuplicateInput defines that the same outpoint is supplied twice.
	ErrDuplicateInput = errors.New("duplicate input")
	// ErrInvalidRecipient defines that recipient script is not standard for the network.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// placeholderScript reserves size of a coordinator P2WPKH output until its address is reserved.
	placeholderScript = append([]byte{txscript.OP_0, txscript.OP_DATA_20}, make([]byte, txsizes.P2WPKHPkScriptSize-2)...)
)

// FundingWallet describes coordinator wallet used to fund and receive coinjoin outputs.
type FundingWallet interface {
	// SpendableUtxos returns utxos allowed for spending, change outputs excluded.
	SpendableUtxos() []bitcoin.UTXO
	// SpendableInputMetadata returns signable metadata of utxo.
	SpendableInputMetadata(utxo bitcoin.UTXO) (bitcoin.InputMetadata, error)
	// NewAddress reserves fresh receiving script.
	NewAddress() ([]byte, error)
	// ChangeScript reserves fresh change script.
	ChangeScript() ([]byte, error)
}

// CoinJoinParams describes data needed to build coinjoin transaction.
type CoinJoinParams struct {
	Coordinator     FundingWallet
	Denomination    btcutil.Amount          // value of every denominated output.
	Outputs         int                     // amount of denominated outputs.
	SatoshiPerVByte btcutil.Amount          // fee rate in satoshi per virtual byte.
	ForeignInputs   []bitcoin.InputMetadata // participants inputs, added in supplied order.
	Recipients      []*wire.TxOut           // optional participants outputs, fill first denominated slots.
}

// CoinJoinResult describes built coinjoin transaction.
type CoinJoinResult struct {
	Packet            *psbt.Packet
	Fee               btcutil.Amount
	VSize             int
	ForeignInputs     []int // indexes of participants inputs.
	CoordinatorInputs []int // indexes of coordinator inputs.
	ChangeIndex       int   // coordinator change output index, -1 if there is no change.
}

// TxBuilder provides transaction building related logic.
type TxBuilder struct {
	networkParams *chaincfg.Params
}

// NewTxBuilder is a constructor for TxBuilder.
func NewTxBuilder(networkParams *chaincfg.Params) *TxBuilder {
	return &TxBuilder{
		networkParams: networkParams,
	}
}

// BuildCoinJoinPSBT constructs unsigned coinjoin transaction wrapped into PSBT.
// Coordinator scripts are reserved only after the packet is otherwise complete, so a
// failed validation, selection or packet check reserves nothing.
//
//	Tx struct
//	inputs:
//	┌─────────┬──────────────┬────────────────────────────────────────┐
//	│  index  │     type     │             description                │
//	├=========┼==============┼========================================┤
//	│   0 - k │ foreign      │ participants utxos in supplied order   │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│ k+1 - n │ coordinator  │ coordinator receiving utxos, at least  │
//	│         │              │ one, covers outputs and fee            │
//	└─────────┴──────────────┴────────────────────────────────────────┘
//
//	outputs:
//	┌─────────┬──────────────┬────────────────────────────────────────┐
//	│  index  │     type     │             description                │
//	├=========┼==============┼========================================┤
//	│   0 - m │ denominated  │ recipients first, then fresh           │
//	│         │              │ coordinator addresses, all equal       │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│ m+1 - r │ refund       │ optional, full value of foreign inputs │
//	│         │              │ carrying refund script                 │
//	├─────────┼──────────────┼────────────────────────────────────────┤
//	│     r+1 │ change       │ optional, coordinator change including │
//	│         │              │ credited foreign inputs, dropped if    │
//	│         │              │ dust                                   │
//	└─────────┴──────────────┴────────────────────────────────────────┘
func (b *TxBuilder) BuildCoinJoinPSBT(params CoinJoinParams) (*CoinJoinResult, error) {
	if err := b.validate(params); err != nil {
		return nil, err
	}

	var (
		outputs  = make([]*wire.TxOut, 0, params.Outputs+len(params.ForeignInputs)+1)
		credited btcutil.Amount
		spent    = make(map[wire.OutPoint]struct{}, len(params.ForeignInputs))
	)
	for _, recipient := range params.Recipients {
		outputs = append(outputs, wire.NewTxOut(recipient.Value, recipient.PkScript))
	}
	for len(outputs) < params.Outputs {
		outputs = append(outputs, wire.NewTxOut(int64(params.Denomination), placeholderScript))
	}

	for _, in := range params.ForeignInputs {
		outpoint := in.PreviousOutPoint()
		if _, ok := spent[outpoint]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInput, outpoint)
		}
		spent[outpoint] = struct{}{}

		txOut := in.WitnessUtxo()
		if txOut == nil {
			return nil, fmt.Errorf("foreign input %s has no spent output", outpoint)
		}
		if !utils.IsWitnessPubKeyHash(txOut.PkScript) {
			return nil, fmt.Errorf("foreign input %s: %w", outpoint, ErrUnsupportedScript)
		}

		if foreign, ok := in.(*bitcoin.ForeignInput); ok && len(foreign.RefundScript) > 0 {
			outputs = append(outputs, wire.NewTxOut(txOut.Value, foreign.RefundScript))
			continue
		}

		credited += btcutil.Amount(txOut.Value)
	}

	transferAmount := params.Denomination * btcutil.Amount(params.Outputs)
	candidates := coordinatorCandidates(params.Coordinator.SpendableUtxos(), spent)

	usedUTXOs, totalAmount, fee, vsize, err := PrepareUTXOs(candidates, len(params.ForeignInputs), outputs,
		transferAmount, params.SatoshiPerVByte)
	if err != nil {
		return nil, err
	}

	inputsCount := len(params.ForeignInputs) + len(usedUTXOs)
	change := totalAmount + credited - transferAmount - fee
	withChange := !isDust(change)
	if !withChange {
		fee += change
		vsize = EstimateVirtualSize(inputsCount, outputs, false)
	}

	inputs := make([]bitcoin.InputMetadata, 0, inputsCount)
	inputs = append(inputs, params.ForeignInputs...)
	for _, utxo := range usedUTXOs {
		meta, err := params.Coordinator.SpendableInputMetadata(*utxo)
		if err != nil {
			return nil, fmt.Errorf("coordinator input %s: %w", utxo.OutPoint, err)
		}

		inputs = append(inputs, meta)
	}

	changeIndex := -1
	if withChange {
		outputs = append(outputs, wire.NewTxOut(int64(change), placeholderScript))
		changeIndex = len(outputs) - 1
	}

	tx := wire.NewMsgTx(txVersion)
	for _, in := range inputs {
		outpoint := in.PreviousOutPoint()
		tx.AddTxIn(wire.NewTxIn(&outpoint, nil, nil))
	}
	tx.TxOut = outputs

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	result := &CoinJoinResult{
		Packet:      packet,
		Fee:         fee,
		VSize:       vsize,
		ChangeIndex: changeIndex,
	}
	for i, in := range inputs {
		if err = PrepareInput(&packet.Inputs[i], in); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		if i < len(params.ForeignInputs) {
			result.ForeignInputs = append(result.ForeignInputs, i)
		} else {
			result.CoordinatorInputs = append(result.CoordinatorInputs, i)
		}
	}

	if err = addInputRoleIndexes(packet, ForeignInputsHelpingKey, result.ForeignInputs); err != nil {
		return nil, err
	}
	if err = addInputRoleIndexes(packet, CoordinatorInputsHelpingKey, result.CoordinatorInputs); err != nil {
		return nil, err
	}
	if err = packet.SanityCheck(); err != nil {
		return nil, err
	}

	// scripts are reserved last, the packet is final apart from output scripts.
	for i := len(params.Recipients); i < params.Outputs; i++ {
		if tx.TxOut[i].PkScript, err = params.Coordinator.NewAddress(); err != nil {
			return nil, err
		}
	}
	if withChange {
		if tx.TxOut[changeIndex].PkScript, err = params.Coordinator.ChangeScript(); err != nil {
			return nil, err
		}
	}

	log.WithFields(log.Fields{
		"inputs":  len(tx.TxIn),
		"outputs": len(tx.TxOut),
		"fee":     int64(fee),
		"vsize":   vsize,
	}).Debug("coinjoin transaction built")

	return result, nil
}

// isDust reports whether P2WPKH output of amount is dust at the default relay fee.
func isDust(amount btcutil.Amount) bool {
	return txrules.IsDustOutput(wire.NewTxOut(int64(amount), placeholderScript), txrules.DefaultRelayFeePerKb)
}

// validate checks coinjoin parameters.
func (b *TxBuilder) validate(params CoinJoinParams) error {
	if params.Coordinator == nil {
		return errors.New("coordinator wallet is required")
	}
	if params.Outputs <= 0 {
		return ErrInvalidOutputsCount
	}
	if params.SatoshiPerVByte < 0 {
		return ErrInvalidFeeRate
	}
	if isDust(params.Denomination) {
		return ErrDustDenomination
	}
	if len(params.Recipients) > params.Outputs {
		return ErrTooManyRecipients
	}

	for i, recipient := range params.Recipients {
		if btcutil.Amount(recipient.Value) != params.Denomination {
			return fmt.Errorf("%w: recipient %d pays %d, expected %d", bitcoin.ErrDenominationMismatch,
				i, recipient.Value, int64(params.Denomination))
		}

		if _, err := utils.AddressFromScript(b.networkParams, recipient.PkScript); err != nil {
			return errors.Join(ErrInvalidRecipient, err)
		}
	}

	return nil
}

// coordinatorCandidates returns external utxos not spent by foreign inputs sorted by value desc.
func coordinatorCandidates(utxos []bitcoin.UTXO, spent map[wire.OutPoint]struct{}) []bitcoin.UTXO {
	candidates := make([]bitcoin.UTXO, 0, len(utxos))
	for _, utxo := range utxos {
		if utxo.Keychain != bitcoin.KeychainExternal {
			continue
		}
		if _, ok := spent[utxo.OutPoint]; ok {
			continue
		}

		candidates = append(candidates, utxo)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Value > candidates[j].Value
	})

	return candidates
}

// PrepareUTXOs selects utxos (sorted by value desc) to cover transfer amount and fee
// of transaction with inputs foreign inputs and txOuts outputs plus change.
// Returns used utxos, total satoshi amount of utxos, fee, estimated virtual size and error if any.
func PrepareUTXOs(utxos []bitcoin.UTXO, inputs int, txOuts []*wire.TxOut, transferAmount,
	satoshiPerVByte btcutil.Amount) (usedUTXOs []*bitcoin.UTXO, totalAmount, fee btcutil.Amount, vsize int, err error) {
	satFn := func(u *bitcoin.UTXO) btcutil.Amount { return u.Value }

	for i := 1; i <= len(utxos); i++ {
		vsize = EstimateVirtualSize(i+inputs, txOuts, true)
		fee = satoshiPerVByte * btcutil.Amount(vsize)

		usedUTXOs, totalAmount, err = SelectUTXO(utxos, satFn, transferAmount+fee, i, bitcoin.ErrInsufficientFunds)
		if err != nil {
			if errors.Is(err, bitcoin.ErrInsufficientFunds) {
				continue
			}

			return nil, 0, 0, 0, err
		}

		return usedUTXOs, totalAmount, fee, vsize, nil
	}

	vsize = EstimateVirtualSize(numbers.Max(len(utxos), 1)+inputs, txOuts, true)
	need := transferAmount + satoshiPerVByte*btcutil.Amount(vsize)
	have := numbers.SumBy(utxos, func(u bitcoin.UTXO) btcutil.Amount { return u.Value })

	return nil, 0, 0, 0, NewInsufficientError(need, have)
}

// EstimateVirtualSize returns worst case virtual size of transaction spending
// P2WPKH inputs into txOuts, with optional P2WPKH change output.
func EstimateVirtualSize(inputs int, txOuts []*wire.TxOut, withChange bool) int {
	changeScriptSize := 0
	if withChange {
		changeScriptSize = txsizes.P2WPKHPkScriptSize
	}

	return txsizes.EstimateVirtualSize(0, 0, inputs, 0, txOuts, changeScriptSize)
}

// SelectUTXO is a partly greedy selection algorithm for UTXOs with 'requiredUTXOs' parameter.
// Returns list of selected by algorithm UTXOs with total amount, counted by passed amount function.
func SelectUTXO(utxos []bitcoin.UTXO, amountFn func(*bitcoin.UTXO) btcutil.Amount, minAmount btcutil.Amount, requiredUTXOs int,
	insufficientBalanceError error) (usedUTXOs []*bitcoin.UTXO, totalAmount btcutil.Amount, _ error) {
	if requiredUTXOs <= 0 || len(utxos) < requiredUTXOs {
		return nil, 0, bitcoin.ErrInvalidUTXOAmount
	}

	usedUTXOs = make([]*bitcoin.UTXO, 0, requiredUTXOs)
	var startIdx = 0
	var usedIdxs = make([]int, 0, requiredUTXOs)

	// find the closest by amount UTXO that is grater then minAmount or take the biggest possible.
	for idx := range utxos {
		if minAmount > amountFn(&utxos[idx]) {
			break
		}

		startIdx = idx
	}

	usedIdxs = append(usedIdxs, startIdx)
	totalAmount += amountFn(&utxos[startIdx])
	usedUTXOs = append(usedUTXOs, &utxos[startIdx])
	requiredUTXOs--

	// pick bigger amount if total amount do not cover minAmount, otherwise - the smallest to pass requiredUTXOs.
	for ; requiredUTXOs > 0; requiredUTXOs-- {
		idx := selectUnused(startIdx, len(utxos), usedIdxs, minAmount <= totalAmount)
		if idx == -1 {
			return nil, 0, bitcoin.ErrInvalidUTXOAmount
		}

		usedIdxs = append(usedIdxs, idx)
		totalAmount += amountFn(&utxos[idx])
		usedUTXOs = append(usedUTXOs, &utxos[idx])
	}

	if minAmount > totalAmount {
		return nil, 0, insufficientBalanceError
	}

	return usedUTXOs, totalAmount, nil
}

// selectUnused returns first unused idx depending on search direction.
// Reversed search walks the whole list from the smallest amount.
func selectUnused(start, end int, usedIdxs []int, reversed bool) int {
	if reversed {
		for idx := end - 1; idx >= 0; idx-- {
			if !isUsed(idx, usedIdxs) {
				return idx
			}
		}
	} else {
		for idx := start; idx < end; idx++ {
			if !isUsed(idx, usedIdxs) {
				return idx
			}
		}
	}

	return -1
}

// isUsed returns true id idx is in usedIdxs.
func isUsed(idx int, usedIdxs []int) bool {
	for _, used := range usedIdxs {
		if used == idx {
			return true
		}
	}

	return false
}
