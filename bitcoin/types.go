// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package bitcoin

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Keychain tags which descriptor of a wallet produced an output script.
type Keychain uint8

const (
	// KeychainExternal defines receiving (external) scripts.
	KeychainExternal Keychain = 0
	// KeychainInternal defines change (internal) scripts.
	KeychainInternal Keychain = 1
)

// String returns textual keychain representation used in UTXO snapshots.
func (k Keychain) String() string {
	switch k {
	case KeychainExternal:
		return "External"
	case KeychainInternal:
		return "Internal"
	default:
		return "Unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKeychain parses keychain from its textual representation.
func ParseKeychain(s string) (Keychain, error) {
	switch s {
	case "External", "external":
		return KeychainExternal, nil
	case "Internal", "internal":
		return KeychainInternal, nil
	default:
		return 0, fmt.Errorf("unknown keychain %q", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (k Keychain) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Keychain) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := ParseKeychain(s)
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}

// UTXO describes unspent transaction output data.
type UTXO struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount // in Satoshi.
	Script   []byte         // ScriptPubKey.
	Keychain Keychain       // owning keychain inside the wallet that observed it.
}

// TxOut returns the output the UTXO refers to.
func (u *UTXO) TxOut() *wire.TxOut {
	return wire.NewTxOut(int64(u.Value), u.Script)
}

// utxoRecord is the snapshot (JSON) representation of UTXO.
// e.g. {"outpoint":"<txid>:1","txout":{"value":2000000000,"script_pubkey":"0014..."},"keychain":"External"}.
type utxoRecord struct {
	OutPoint string `json:"outpoint"`
	TxOut    struct {
		Value        int64  `json:"value"`
		ScriptPubKey string `json:"script_pubkey"`
	} `json:"txout"`
	Keychain Keychain `json:"keychain"`
}

// MarshalJSON implements json.Marshaler.
func (u UTXO) MarshalJSON() ([]byte, error) {
	var record utxoRecord
	record.OutPoint = u.OutPoint.String()
	record.TxOut.Value = int64(u.Value)
	record.TxOut.ScriptPubKey = hex.EncodeToString(u.Script)
	record.Keychain = u.Keychain

	return json.Marshal(record)
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UTXO) UnmarshalJSON(data []byte) error {
	var record utxoRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return err
	}

	outPoint, err := ParseOutPoint(record.OutPoint)
	if err != nil {
		return err
	}

	script, err := hex.DecodeString(record.TxOut.ScriptPubKey)
	if err != nil {
		return fmt.Errorf("invalid script_pubkey: %w", err)
	}

	if record.TxOut.Value < 0 {
		return fmt.Errorf("negative txout value %d", record.TxOut.Value)
	}

	*u = UTXO{
		OutPoint: outPoint,
		Value:    btcutil.Amount(record.TxOut.Value),
		Script:   script,
		Keychain: record.Keychain,
	}

	return nil
}

// ParseOutPoint parses outpoint in "<txid>:<vout>" format.
func ParseOutPoint(s string) (wire.OutPoint, error) {
	sep := strings.LastIndexByte(s, ':')
	if sep <= 0 || sep == len(s)-1 {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint %q", s)
	}

	hash, err := chainhash.NewHashFromStr(s[:sep])
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint txid: %w", err)
	}

	index, err := strconv.ParseUint(s[sep+1:], 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("invalid outpoint index: %w", err)
	}

	return *wire.NewOutPoint(hash, uint32(index)), nil
}
