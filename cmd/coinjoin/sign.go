// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"github.com/urfave/cli/v2"

	"github.com/BoostyLabs/coinjoin/bitcoin/coinjoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/combiner"
	"github.com/BoostyLabs/coinjoin/bitcoin/wallet"
	"github.com/BoostyLabs/coinjoin/internal/snapshot"
)

var sign = cli.Command{
	Name:  "sign",
	Usage: "sign psbt by the mixer and every participant, merge and finalize it",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "broadcast",
			Usage: "publish finalized transaction through electrum",
		},
	},
	Action: signAction,
}

type signerSummary struct {
	Name   string `json:"name"`
	Signed []int  `json:"signed,omitempty"`
	Error  string `json:"error,omitempty"`
}

type signSummary struct {
	TxID        string          `json:"txid"`
	Tx          string          `json:"tx"`
	Signers     []signerSummary `json:"signers"`
	Broadcasted bool            `json:"broadcasted"`
}

func signAction(ctx *cli.Context) error {
	store := snapshot.NewOsStore(cfg.Datadir)

	packet, err := store.ReadPSBT()
	if err != nil {
		return err
	}

	mixerPhrase, err := store.ReadMixerMnemonic()
	if err != nil {
		return err
	}

	phrases, err := store.ReadMnemonicDir(store.ClientMnemonicDir())
	if err != nil {
		return err
	}

	mixer, err := wallet.FromMnemonic(mixerPhrase, cfg.Network, wallet.WithGap(cfg.GapLimit), wallet.WithName("mixer"))
	if err != nil {
		return err
	}

	signers := []coinjoin.Signer{mixer}
	for i, phrase := range phrases {
		participant, err := wallet.FromMnemonic(phrase, cfg.Network, wallet.WithGap(cfg.GapLimit), wallet.WithName(participantName(i)))
		if err != nil {
			return err
		}

		signers = append(signers, participant)
	}

	outcomes, err := coinjoin.SignAll(ctx.Context, packet, signers, coinjoin.WithParallelism(cfg.Parallelism))
	if err != nil {
		return err
	}

	completed, err := coinjoin.Complete(outcomes)
	if err != nil {
		return err
	}

	txHex, err := combiner.EncodeTx(completed.Tx)
	if err != nil {
		return err
	}

	summary := signSummary{
		TxID: completed.Tx.TxHash().String(),
		Tx:   txHex,
	}
	for _, outcome := range outcomes {
		s := signerSummary{Name: outcome.Signer, Signed: outcome.Result.Signed}
		if outcome.Err != nil {
			s.Error = outcome.Err.Error()
		}

		summary.Signers = append(summary.Signers, s)
	}

	if ctx.Bool("broadcast") {
		source, closeSource, err := newSource(cfg)
		if err != nil {
			return err
		}
		defer closeSource()

		if _, err = source.Broadcast(ctx.Context, completed.Tx); err != nil {
			return err
		}

		summary.Broadcasted = true
	}

	return printJSON(ctx, summary)
}
