// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package chain

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// retrySource retries transient failures of wrapped source.
type retrySource struct {
	source     Source
	newBackOff func() backoff.BackOff
}

// WithRetry wraps source with exponential backoff limited by retries count.
// Server side errors and closed sources are not retried.
func WithRetry(source Source, retries uint64) Source {
	return WithRetryBackOff(source, func() backoff.BackOff {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 200 * time.Millisecond
		policy.MaxElapsedTime = time.Minute

		return backoff.WithMaxRetries(policy, retries)
	})
}

// WithRetryBackOff wraps source with custom backoff policy, newBackOff is called per operation.
func WithRetryBackOff(source Source, newBackOff func() backoff.BackOff) Source {
	return &retrySource{
		source:     source,
		newBackOff: newBackOff,
	}
}

// ListUnspent implements Source.
func (r *retrySource) ListUnspent(ctx context.Context, pkScript []byte) (unspents []Unspent, err error) {
	err = r.retry(ctx, "listunspent", func() (err error) {
		unspents, err = r.source.ListUnspent(ctx, pkScript)
		return err
	})

	return unspents, err
}

// Broadcast implements Source.
func (r *retrySource) Broadcast(ctx context.Context, tx *wire.MsgTx) (txid *chainhash.Hash, err error) {
	err = r.retry(ctx, "broadcast", func() (err error) {
		txid, err = r.source.Broadcast(ctx, tx)
		return err
	})

	return txid, err
}

func (r *retrySource) retry(ctx context.Context, operation string, fn func() error) error {
	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}

		var rpcErr *RPCError
		if errors.As(err, &rpcErr) || errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, next time.Duration) {
		log.WithError(err).WithFields(log.Fields{"operation": operation, "next": next}).Debug("chain: retrying")
	}

	return backoff.RetryNotify(wrapped, backoff.WithContext(r.newBackOff(), ctx), notify)
}
