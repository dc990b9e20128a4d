// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package chain

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Memory is an in-memory Source. Broadcast transactions spend their inputs and
// add their outputs as unconfirmed, so it is usable for offline sessions and tests.
type Memory struct {
	mu        sync.RWMutex
	unspents  map[string][]Unspent
	broadcast []*wire.MsgTx
}

// NewMemory creates empty in-memory source.
func NewMemory() *Memory {
	return &Memory{
		unspents: make(map[string][]Unspent),
	}
}

// Add registers unspent output locked by pkScript.
func (m *Memory) Add(pkScript []byte, unspent Unspent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := hex.EncodeToString(pkScript)
	m.unspents[key] = append(m.unspents[key], unspent)
}

// ListUnspent implements Source.
func (m *Memory) ListUnspent(_ context.Context, pkScript []byte) ([]Unspent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Unspent(nil), m.unspents[hex.EncodeToString(pkScript)]...), nil
}

// Broadcast implements Source.
func (m *Memory) Broadcast(_ context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	spent := make(map[wire.OutPoint]struct{}, len(tx.TxIn))
	for _, in := range tx.TxIn {
		spent[in.PreviousOutPoint] = struct{}{}
	}
	for key, unspents := range m.unspents {
		kept := unspents[:0]
		for _, unspent := range unspents {
			if _, ok := spent[unspent.OutPoint]; !ok {
				kept = append(kept, unspent)
			}
		}
		m.unspents[key] = kept
	}

	txid := tx.TxHash()
	for i, out := range tx.TxOut {
		key := hex.EncodeToString(out.PkScript)
		m.unspents[key] = append(m.unspents[key], Unspent{
			OutPoint: *wire.NewOutPoint(&txid, uint32(i)),
			Value:    btcutil.Amount(out.Value),
		})
	}

	m.broadcast = append(m.broadcast, tx.Copy())

	return &txid, nil
}

// Broadcasted returns transactions published through Broadcast.
func (m *Memory) Broadcasted() []*wire.MsgTx {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]*wire.MsgTx(nil), m.broadcast...)
}
