// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/BoostyLabs/coinjoin/bitcoin/keys"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
	"github.com/BoostyLabs/coinjoin/bitcoin/wallet"
	"github.com/BoostyLabs/coinjoin/internal/snapshot"
)

var genseed = cli.Command{
	Name:  "genseed",
	Usage: "generate a mnemonic seed",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "name",
			Usage: "save the seed into datadir as <name>.mnemonic instead of printing it",
		},
		&cli.BoolFlag{
			Name:  "mixer",
			Usage: "save the seed as the coordinator seed",
		},
	},
	Action: genSeedAction,
}

func genSeedAction(ctx *cli.Context) error {
	phrase, err := keys.NewMnemonic(keys.MnemonicEntropyBits)
	if err != nil {
		return err
	}

	name := ctx.String("name")
	if name == "" {
		_, err = fmt.Fprintln(ctx.App.Writer, phrase)
		return err
	}

	store := snapshot.NewOsStore(cfg.Datadir)
	dir := store.ClientMnemonicDir()
	if ctx.Bool("mixer") {
		dir = store.MixerMnemonicDir()
	}

	path := filepath.Join(dir, name+snapshot.MnemonicExt)
	if err = store.WriteMnemonic(path, phrase); err != nil {
		return err
	}

	key, err := wallet.FirstReceivingKey(phrase, cfg.Network)
	if err != nil {
		return err
	}

	pubKey, err := keys.PublicKey(key)
	if err != nil {
		return err
	}

	address, err := utils.NewWitnessPubKeyHashAddress(cfg.Network, pubKey.SerializeCompressed())
	if err != nil {
		return err
	}

	return printJSON(ctx, map[string]string{
		"path":    path,
		"address": address.EncodeAddress(),
	})
}
