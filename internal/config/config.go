// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every key when read from environment.
	EnvPrefix = "COINJOIN"

	// ConfigFileKey is the optional path of config file, any format supported by viper.
	ConfigFileKey = "CONFIG"
	// NetworkKey is the bitcoin network: mainnet, testnet, regtest or signet.
	NetworkKey = "NETWORK"
	// HostKey is the electrum server url, e.g. tcp://127.0.0.1:50001 or ws://127.0.0.1:50003.
	HostKey = "HOST"
	// DatadirKey is the directory holding mnemonics, utxo snapshots and psbt.
	DatadirKey = "DATADIR"
	// DenominationKey is the amount in satoshi of every coinjoin output.
	DenominationKey = "DENOMINATION"
	// OutputsKey is the amount of denominated outputs.
	OutputsKey = "OUTPUTS"
	// FeeRateKey is the fee rate in satoshi per virtual byte.
	FeeRateKey = "FEE_RATE"
	// GapLimitKey is the amount of unused scripts scanned past the last used one.
	GapLimitKey = "GAP_LIMIT"
	// LogLevelKey is the logrus level name.
	LogLevelKey = "LOG_LEVEL"
	// LogJSONKey switches logs to json format.
	LogJSONKey = "LOG_JSON"
	// ParallelismKey limits amount of concurrently signing wallets.
	ParallelismKey = "PARALLELISM"
	// RetriesKey is the amount of retries of failed electrum calls.
	RetriesKey = "RETRIES"
)

var (
	// ErrInvalidConfig defines that config value failed validation.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrUnknownNetwork defines that network name is not supported.
	ErrUnknownNetwork = errors.New("unknown network")
)

// Config holds validated process configuration.
type Config struct {
	Network      *chaincfg.Params
	Host         string
	Datadir      string
	Denomination btcutil.Amount
	Outputs      int
	FeeRate      btcutil.Amount
	GapLimit     uint32
	LogLevel     log.Level
	LogJSON      bool
	Parallelism  int
	Retries      uint64
}

// Load reads configuration from defaults, optional config file and COINJOIN_ prefixed
// environment. Overrides, e.g. command line flags, have the highest priority.
func Load(overrides map[string]interface{}) (*Config, error) {
	vip := viper.New()
	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vip.AutomaticEnv()

	vip.SetDefault(NetworkKey, chaincfg.RegressionNetParams.Name)
	vip.SetDefault(HostKey, "tcp://127.0.0.1:50001")
	vip.SetDefault(DatadirKey, "./data")
	vip.SetDefault(DenominationKey, 5000)
	vip.SetDefault(OutputsKey, 5)
	vip.SetDefault(FeeRateKey, 10)
	vip.SetDefault(GapLimitKey, 20)
	vip.SetDefault(LogLevelKey, log.InfoLevel.String())
	vip.SetDefault(LogJSONKey, false)
	vip.SetDefault(ParallelismKey, 4)
	vip.SetDefault(RetriesKey, 3)

	for key, value := range overrides {
		vip.Set(key, value)
	}

	if path := vip.GetString(ConfigFileKey); path != "" {
		vip.SetConfigFile(path)
		if err := vip.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return parse(vip)
}

func parse(vip *viper.Viper) (*Config, error) {
	network, err := NetworkParams(vip.GetString(NetworkKey))
	if err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(vip.GetString(LogLevelKey))
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := &Config{
		Network:      network,
		Host:         vip.GetString(HostKey),
		Datadir:      vip.GetString(DatadirKey),
		Denomination: btcutil.Amount(vip.GetInt64(DenominationKey)),
		Outputs:      vip.GetInt(OutputsKey),
		FeeRate:      btcutil.Amount(vip.GetInt64(FeeRateKey)),
		GapLimit:     vip.GetUint32(GapLimitKey),
		LogLevel:     level,
		LogJSON:      vip.GetBool(LogJSONKey),
		Parallelism:  vip.GetInt(ParallelismKey),
		Retries:      vip.GetUint64(RetriesKey),
	}

	if err = cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Datadir == "":
		return fmt.Errorf("%w: datadir must not be empty", ErrInvalidConfig)
	case cfg.Denomination <= 0:
		return fmt.Errorf("%w: denomination must be positive", ErrInvalidConfig)
	case cfg.Outputs <= 0:
		return fmt.Errorf("%w: outputs must be positive", ErrInvalidConfig)
	case cfg.FeeRate < 0:
		return fmt.Errorf("%w: fee rate must not be negative", ErrInvalidConfig)
	case cfg.GapLimit == 0:
		return fmt.Errorf("%w: gap limit must be positive", ErrInvalidConfig)
	case cfg.Parallelism <= 0:
		return fmt.Errorf("%w: parallelism must be positive", ErrInvalidConfig)
	}

	return nil
}

// NetworkParams returns chain params by network name.
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
}
