// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package combiner

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
)

// Encode returns hex encoded serialized packet.
func Encode(packet *psbt.Packet) (string, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}

// Decode parses hex encoded packet, surrounding whitespaces are ignored.
func Decode(s string) (*psbt.Packet, error) {
	data, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}

	return psbt.NewFromRawBytes(bytes.NewReader(data), false)
}

// EncodeBase64 returns base64 encoded serialized packet.
func EncodeBase64(packet *psbt.Packet) (string, error) {
	return packet.B64Encode()
}

// DecodeBase64 parses base64 encoded packet.
func DecodeBase64(s string) (*psbt.Packet, error) {
	return psbt.NewFromRawBytes(strings.NewReader(strings.TrimSpace(s)), true)
}

// EncodeTx returns hex encoded network serialization of transaction.
func EncodeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf.Bytes()), nil
}
