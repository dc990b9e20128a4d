// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package coinjoin

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BoostyLabs/coinjoin/bitcoin"
	"github.com/BoostyLabs/coinjoin/bitcoin/combiner"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
	"github.com/BoostyLabs/coinjoin/bitcoin/wallet"
)

// DefaultParallelism defines how many signers work at the same time by default.
const DefaultParallelism = 4

// ErrNoSignatures defines that no signer produced signed packet.
var ErrNoSignatures = errors.New("no signed packets")

// Signer signs inputs it owns on its own copy of packet.
type Signer interface {
	Name() string
	Sign(packet *psbt.Packet) (*psbt.Packet, wallet.SignResult, error)
}

// ForeignSource provides participant utxos for inclusion into coinjoin transaction.
type ForeignSource interface {
	SpendableUtxos() []bitcoin.UTXO
	ForeignInputMetadata(utxo bitcoin.UTXO) (bitcoin.InputMetadata, error)
}

// SignOutcome describes result of one signer.
type SignOutcome struct {
	Signer string
	Packet *psbt.Packet
	Result wallet.SignResult
	Err    error
}

// Completed describes finalized coinjoin transaction.
type Completed struct {
	Packet *psbt.Packet
	Tx     *wire.MsgTx
}

type options struct {
	parallelism int
}

// Option configures signing session.
type Option func(*options)

// WithParallelism limits amount of concurrently working signers.
func WithParallelism(parallelism int) Option {
	return func(o *options) {
		if parallelism > 0 {
			o.parallelism = parallelism
		}
	}
}

// SignAll hands identical copy of packet to every signer and signs them concurrently.
// Failure of one signer is recorded in its outcome and does not stop others.
// Outcomes are returned in signers order.
func SignAll(ctx context.Context, packet *psbt.Packet, signers []Signer, opts ...Option) ([]SignOutcome, error) {
	o := options{parallelism: DefaultParallelism}
	for _, opt := range opts {
		opt(&o)
	}

	copies := make([]*psbt.Packet, len(signers))
	for i := range signers {
		packetCopy, err := utils.CopyPacket(packet)
		if err != nil {
			return nil, err
		}

		copies[i] = packetCopy
	}

	outcomes := make([]SignOutcome, len(signers))

	var group errgroup.Group
	group.SetLimit(o.parallelism)
	for i, signer := range signers {
		i, signer := i, signer
		group.Go(func() error {
			outcome := SignOutcome{Signer: signer.Name()}
			if err := ctx.Err(); err != nil {
				outcome.Err = err
				outcomes[i] = outcome
				return nil
			}

			outcome.Packet, outcome.Result, outcome.Err = signer.Sign(copies[i])
			outcomes[i] = outcome

			logger := log.WithField("signer", outcome.Signer)
			if outcome.Err != nil {
				logger.WithError(outcome.Err).Warn("signing failed")
				return nil
			}

			logger.WithFields(log.Fields{
				"signed":  outcome.Result.InputsSigned,
				"skipped": outcome.Result.InputsSkipped,
			}).Debug("packet signed")

			return nil
		})
	}

	_ = group.Wait()

	return outcomes, ctx.Err()
}

// Complete merges signed packets of successful outcomes, finalizes result and extracts transaction.
// Incomplete signatures error is joined with failures of signers.
func Complete(outcomes []SignOutcome) (*Completed, error) {
	var (
		packets  []*psbt.Packet
		failures []error
	)
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failures = append(failures, fmt.Errorf("signer %s: %w", outcome.Signer, outcome.Err))
			continue
		}
		if outcome.Packet != nil {
			packets = append(packets, outcome.Packet)
		}
	}

	if len(packets) == 0 {
		return nil, errors.Join(append([]error{ErrNoSignatures}, failures...)...)
	}

	merged, err := combiner.MergeAll(packets...)
	if err != nil {
		return nil, err
	}

	finalized, err := combiner.Finalize(merged)
	if err != nil {
		return nil, errors.Join(append([]error{err}, failures...)...)
	}

	tx, err := combiner.Extract(finalized)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"txid":    tx.TxHash().String(),
		"signers": len(packets),
	}).Info("coinjoin transaction completed")

	return &Completed{Packet: finalized, Tx: tx}, nil
}

// CollectForeignInputs picks up to perParticipant biggest spendable utxos worth at least minValue
// from every participant, in participants order.
func CollectForeignInputs(participants []ForeignSource, perParticipant int, minValue btcutil.Amount) ([]bitcoin.InputMetadata, error) {
	var inputs []bitcoin.InputMetadata
	for i, participant := range participants {
		utxos := participant.SpendableUtxos()
		sort.SliceStable(utxos, func(a, b int) bool {
			return utxos[a].Value > utxos[b].Value
		})

		picked := 0
		for _, utxo := range utxos {
			if perParticipant > 0 && picked == perParticipant {
				break
			}
			if utxo.Keychain != bitcoin.KeychainExternal || utxo.Value < minValue {
				continue
			}

			meta, err := participant.ForeignInputMetadata(utxo)
			if err != nil {
				return nil, fmt.Errorf("participant %d: %w", i, err)
			}

			inputs = append(inputs, meta)
			picked++
		}
	}

	return inputs, nil
}
