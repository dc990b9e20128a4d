// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

// Package chain provides chain data sources used by wallets: unspent outputs
// lookup by locking script and transaction broadcast.
package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrClosed defines that source was closed.
var ErrClosed = errors.New("chain source closed")

// Unspent is an unspent output paying to a queried script.
type Unspent struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	// Height is confirmation height, zero or negative for mempool outputs.
	Height int64
}

// Source provides chain state.
type Source interface {
	// ListUnspent returns unspent outputs locked by pkScript.
	ListUnspent(ctx context.Context, pkScript []byte) ([]Unspent, error)
	// Broadcast publishes transaction and returns its id.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error)
}
