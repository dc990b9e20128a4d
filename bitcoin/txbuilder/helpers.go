// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/aviate-labs/leb128"
	"github.com/btcsuite/btcd/btcutil/psbt"
)

// ErrInvalidRoleIndex defines that role record refers to input out of packet range.
var ErrInvalidRoleIndex = errors.New("invalid input role index")

// ExtractInputRoleIndexesFromPSBT returns map with input roles and their indexes.
func ExtractInputRoleIndexesFromPSBT(data []byte) (map[InputsHelpingKey][]int, error) {
	p, err := psbt.NewFromRawBytes(bytes.NewBuffer(data), false)
	if err != nil {
		return nil, err
	}

	return InputRoleIndexes(p)
}

// InputRoleIndexes returns map with input roles and their indexes recorded in packet.
// Indexes are stored as LEB128 sequence.
func InputRoleIndexes(p *psbt.Packet) (map[InputsHelpingKey][]int, error) {
	var result = make(map[InputsHelpingKey][]int, 2)
	for _, unknown := range p.Unknowns {
		if len(unknown.Key) != 1 {
			continue
		}

		key, err := InputsHelpingKeyFromBytes(unknown.Key)
		if err != nil {
			return nil, err
		}

		indexes := make([]int, 0, len(unknown.Value))
		data := bytes.NewReader(unknown.Value)
		for data.Len() > 0 {
			num, err := leb128.DecodeUnsigned(data)
			if err != nil {
				return nil, fmt.Errorf("%s role: %w", key, err)
			}

			if !num.IsInt64() || num.Int64() >= int64(len(p.Inputs)) {
				return nil, fmt.Errorf("%w: %s role: %s", ErrInvalidRoleIndex, key, num)
			}

			indexes = append(indexes, int(num.Int64()))
		}

		result[key] = indexes
	}

	return result, nil
}

// addInputRoleIndexes records input indexes of role into packet unknowns.
func addInputRoleIndexes(p *psbt.Packet, key InputsHelpingKey, indexes []int) error {
	if len(indexes) == 0 {
		return nil
	}

	value := make([]byte, 0, len(indexes))
	for _, index := range indexes {
		if index < 0 || index >= len(p.Inputs) {
			return fmt.Errorf("%w: %s role: %d", ErrInvalidRoleIndex, key, index)
		}

		encoded, err := leb128.EncodeUnsigned(big.NewInt(int64(index)))
		if err != nil {
			return err
		}

		value = append(value, encoded...)
	}

	p.Unknowns = append(p.Unknowns, &psbt.Unknown{Key: key.Bytes(), Value: value})

	return nil
}
