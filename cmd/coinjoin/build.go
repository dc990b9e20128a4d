// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/descriptor"
	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
	"github.com/BoostyLabs/coinjoin/bitcoin/txbuilder"
	"github.com/BoostyLabs/coinjoin/bitcoin/wallet"
	"github.com/BoostyLabs/coinjoin/internal/snapshot"
)

var build = cli.Command{
	Name:  "build",
	Usage: "build unsigned coinjoin psbt from participants utxo snapshots",
	Flags: []cli.Flag{
		&cli.Int64Flag{
			Name:  "denomination",
			Usage: "the amount in satoshi of every coinjoin output, overrides config",
		},
		&cli.IntFlag{
			Name:  "outputs",
			Usage: "the amount of denominated outputs, overrides config",
		},
		&cli.Int64Flag{
			Name:  "fee-rate",
			Usage: "the fee rate in sat/vB, overrides config",
		},
	},
	Action: buildAction,
}

type buildSummary struct {
	TxID              string `json:"txid"`
	Fee               int64  `json:"fee"`
	VSize             int    `json:"vsize"`
	ForeignInputs     []int  `json:"foreign_inputs"`
	CoordinatorInputs []int  `json:"coordinator_inputs"`
	ChangeIndex       int    `json:"change_index"`
	PSBT              string `json:"psbt"`
}

func buildAction(ctx *cli.Context) error {
	store := snapshot.NewOsStore(cfg.Datadir)

	mixerPhrase, err := store.ReadMixerMnemonic()
	if err != nil {
		return err
	}

	phrases, err := store.ReadMnemonicDir(store.ClientMnemonicDir())
	if err != nil {
		return err
	}

	utxos, err := store.ReadUtxoDir(store.ClientUtxoDir())
	if err != nil {
		return err
	}

	source, closeSource, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	mixer, err := wallet.FromMnemonic(mixerPhrase, cfg.Network,
		wallet.WithSource(source),
		wallet.WithGap(cfg.GapLimit),
		wallet.WithName("mixer"),
	)
	if err != nil {
		return err
	}

	if _, err = mixer.Sync(ctx.Context); err != nil {
		return fmt.Errorf("sync mixer: %w", err)
	}

	participants := make([]*wallet.Wallet, 0, len(phrases))
	for i, phrase := range phrases {
		participant, err := watchOnlyWallet(phrase, participantName(i))
		if err != nil {
			return err
		}

		participants = append(participants, participant)
	}

	foreign, err := foreignInputs(participants, utxos)
	if err != nil {
		return err
	}

	params := txbuilder.CoinJoinParams{
		Coordinator:     mixer,
		Denomination:    cfg.Denomination,
		Outputs:         cfg.Outputs,
		SatoshiPerVByte: cfg.FeeRate,
		ForeignInputs:   foreign,
	}
	if ctx.IsSet("denomination") {
		params.Denomination = btcutil.Amount(ctx.Int64("denomination"))
	}
	if ctx.IsSet("outputs") {
		params.Outputs = ctx.Int("outputs")
	}
	if ctx.IsSet("fee-rate") {
		params.SatoshiPerVByte = btcutil.Amount(ctx.Int64("fee-rate"))
	}

	result, err := txbuilder.NewTxBuilder(cfg.Network).BuildCoinJoinPSBT(params)
	if err != nil {
		return err
	}

	if err = store.WritePSBT(result.Packet); err != nil {
		return err
	}

	return printJSON(ctx, buildSummary{
		TxID:              result.Packet.UnsignedTx.TxHash().String(),
		Fee:               int64(result.Fee),
		VSize:             result.VSize,
		ForeignInputs:     result.ForeignInputs,
		CoordinatorInputs: result.CoordinatorInputs,
		ChangeIndex:       result.ChangeIndex,
		PSBT:              store.PSBTPath(),
	})
}

// watchOnlyWallet creates wallet holding public BIP-84 account descriptors of seed phrase.
func watchOnlyWallet(phrase, name string) (*wallet.Wallet, error) {
	master, err := keys.DeriveMaster(phrase, cfg.Network)
	if err != nil {
		return nil, err
	}

	external, err := descriptor.BIP84(master, cfg.Network, 0, keys.ChangeExternal).Public()
	if err != nil {
		return nil, err
	}

	internal, err := descriptor.BIP84(master, cfg.Network, 0, keys.ChangeInternal).Public()
	if err != nil {
		return nil, err
	}

	return wallet.New(wallet.Params{
		Name:     name,
		External: external,
		Internal: internal,
		Network:  cfg.Network,
		Gap:      cfg.GapLimit,
	})
}

// foreignInputs describes every snapshot utxo by the participant owning it.
func foreignInputs(participants []*wallet.Wallet, utxos []bitcoin.UTXO) ([]bitcoin.InputMetadata, error) {
	inputs := make([]bitcoin.InputMetadata, 0, len(utxos))
	for _, utxo := range utxos {
		var meta bitcoin.InputMetadata
		for _, participant := range participants {
			found, err := participant.ForeignInputMetadata(utxo)
			if errors.Is(err, bitcoin.ErrUtxoNotOwned) {
				continue
			}
			if err != nil {
				return nil, err
			}

			meta = found
			break
		}

		if meta == nil {
			return nil, fmt.Errorf("%w: %s", bitcoin.ErrUtxoNotOwned, utxo.OutPoint)
		}

		inputs = append(inputs, meta)
	}

	return inputs, nil
}
