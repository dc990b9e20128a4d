// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package wallet

import (
	"context"
	"encoding/hex"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/coinjoin/bitcoin"
)

// Sync queries chain source for every script in the lookahead window of both
// keychains and replaces wallet utxo set. Next unused indexes advance past funded scripts.
func (w *Wallet) Sync(ctx context.Context) ([]bitcoin.UTXO, error) {
	if w.source == nil {
		return nil, ErrNoSource
	}

	var (
		utxos []bitcoin.UTXO
		seen  = make(map[string]struct{})
	)
	for _, keychain := range []bitcoin.Keychain{bitcoin.KeychainExternal, bitcoin.KeychainInternal} {
		found, err := w.scanKeychain(ctx, keychain, seen)
		if err != nil {
			return nil, fmt.Errorf("sync %s keychain: %w", keychain, err)
		}

		utxos = append(utxos, found...)
	}

	w.mu.Lock()
	w.utxos = utxos
	w.mu.Unlock()

	log.WithFields(log.Fields{"wallet": w.name, "utxos": len(utxos)}).Debug("wallet synced")
	return append([]bitcoin.UTXO(nil), utxos...), nil
}

func (w *Wallet) scanKeychain(ctx context.Context, keychain bitcoin.Keychain, seen map[string]struct{}) ([]bitcoin.UTXO, error) {
	var (
		utxos    []bitcoin.UTXO
		ranged   = w.descriptors[keychain].IsRanged()
		unused   uint32
		lastUsed = -1
	)

	for index := uint32(0); ; index++ {
		if (!ranged && index > 0) || (ranged && unused >= w.gap) {
			break
		}

		w.mu.Lock()
		reserved := w.next[keychain]
		script, err := w.scriptAt(keychain, index)
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}

		// reserved scripts are in use even without funds.
		key := hex.EncodeToString(script)
		if _, ok := seen[key]; ok {
			if index >= reserved {
				unused++
			}
			continue
		}
		seen[key] = struct{}{}

		unspents, err := w.source.ListUnspent(ctx, script)
		if err != nil {
			return nil, err
		}
		if len(unspents) == 0 {
			if index >= reserved {
				unused++
			}
			continue
		}

		unused = 0
		lastUsed = int(index)
		for _, unspent := range unspents {
			utxos = append(utxos, bitcoin.UTXO{
				OutPoint: unspent.OutPoint,
				Value:    unspent.Value,
				Script:   script,
				Keychain: keychain,
			})
		}
	}

	if ranged && lastUsed >= 0 {
		w.mu.Lock()
		if uint32(lastUsed)+1 > w.next[keychain] {
			w.next[keychain] = uint32(lastUsed) + 1
		}
		w.mu.Unlock()
	}

	return utxos, nil
}
