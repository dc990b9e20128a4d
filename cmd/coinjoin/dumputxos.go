// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli/v2"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/coinjoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/wallet"
	"github.com/BoostyLabs/coinjoin/internal/snapshot"
)

var dumputxos = cli.Command{
	Name:   "dump-utxos",
	Usage:  "sync participants wallets and save one utxo snapshot per participant",
	Action: dumpUtxosAction,
}

func dumpUtxosAction(ctx *cli.Context) error {
	store := snapshot.NewOsStore(cfg.Datadir)

	phrases, err := store.ReadMnemonicDir(store.ClientMnemonicDir())
	if err != nil {
		return err
	}

	source, closeSource, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	paths := make([]string, 0, len(phrases))
	for i, phrase := range phrases {
		participant, err := wallet.FromMnemonic(phrase, cfg.Network,
			wallet.WithSource(source),
			wallet.WithGap(cfg.GapLimit),
			wallet.WithName(participantName(i)),
		)
		if err != nil {
			return err
		}

		if _, err = participant.Sync(ctx.Context); err != nil {
			return fmt.Errorf("sync %s: %w", participant.Name(), err)
		}

		inputs, err := coinjoin.CollectForeignInputs([]coinjoin.ForeignSource{participant}, 1, cfg.Denomination)
		if err != nil {
			return err
		}
		if len(inputs) == 0 {
			return fmt.Errorf("%s: %w: no utxo of at least %d", participant.Name(), bitcoin.ErrInsufficientFunds, int64(cfg.Denomination))
		}

		txOut := inputs[0].WitnessUtxo()
		path, err := store.WriteUtxo(i, bitcoin.UTXO{
			OutPoint: inputs[0].PreviousOutPoint(),
			Value:    btcutil.Amount(txOut.Value),
			Script:   txOut.PkScript,
			Keychain: bitcoin.KeychainExternal,
		})
		if err != nil {
			return err
		}

		paths = append(paths, path)
	}

	return printJSON(ctx, map[string]interface{}{"utxos": paths})
}

func participantName(index int) string {
	return fmt.Sprintf("participant-%d", index)
}
