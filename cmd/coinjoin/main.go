// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/BoostyLabs/coinjoin/bitcoin/chain"
	"github.com/BoostyLabs/coinjoin/internal/config"
	"github.com/BoostyLabs/coinjoin/internal/logger"
)

var (
	cfg *config.Config

	// newSource connects chain source described by config.
	newSource = dialSource

	// configFlags maps global flags to config keys.
	configFlags = map[string]string{
		"config":    config.ConfigFileKey,
		"network":   config.NetworkKey,
		"host":      config.HostKey,
		"datadir":   config.DatadirKey,
		"log-level": config.LogLevelKey,
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Name = "coinjoin"
	app.Usage = "Build, sign and finalize coinjoin transactions"
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "path of the config file"},
		&cli.StringFlag{Name: "network", Usage: "bitcoin network: mainnet, testnet, regtest or signet"},
		&cli.StringFlag{Name: "host", Usage: "electrum server url, tcp://, ssl://, ws:// or wss://"},
		&cli.StringFlag{Name: "datadir", Usage: "directory with mnemonics, utxo snapshots and psbt"},
		&cli.StringFlag{Name: "log-level", Usage: "one of panic, fatal, error, warn, info, debug, trace"},
	}
	app.Before = loadConfig
	app.Commands = []*cli.Command{
		&genseed,
		&dumputxos,
		&build,
		&sign,
	}

	return app
}

func loadConfig(ctx *cli.Context) error {
	overrides := make(map[string]interface{})
	for flag, key := range configFlags {
		if ctx.IsSet(flag) {
			overrides[key] = ctx.String(flag)
		}
	}

	loaded, err := config.Load(overrides)
	if err != nil {
		return err
	}

	cfg = loaded
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	return nil
}

func dialSource(cfg *config.Config) (chain.Source, func(), error) {
	electrum, err := chain.NewElectrum(cfg.Host)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		if err := electrum.Close(); err != nil {
			log.WithError(err).Debug("close electrum connection")
		}
	}

	return chain.WithRetry(electrum, cfg.Retries), closeFn, nil
}

func printJSON(ctx *cli.Context, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(ctx.App.Writer, string(data))

	return err
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[coinjoin] %v\n", err)
	os.Exit(1)
}
