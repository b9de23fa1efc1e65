// Package wallet exposes the node wallets behind a family-neutral provider
// interface so the swap engine can pay out without caring which chain family
// it is talking to.
package wallet

import (
	"context"
	"errors"
)

var (
	// ErrAmbiguousOutput is returned when more than one output of a sent
	// transaction pays the destination address and the caller asked for the
	// output index.
	ErrAmbiguousOutput = errors.New("multiple outputs pay the destination address")

	// ErrSweepUnsupported is returned by providers whose backing wallet has
	// no reliable send-everything primitive.
	ErrSweepUnsupported = errors.New("sweeping is not supported on this chain")
)

// Balance is the wallet balance in minor units, split by confirmation state.
type Balance struct {
	Confirmed   uint64
	Unconfirmed uint64
}

// Total returns the spendable plus pending balance.
func (b *Balance) Total() uint64 {
	return b.Confirmed + b.Unconfirmed
}

// SentTransaction describes a transaction the wallet broadcast. Vout and Fee
// are nil when the backend could not determine them.
type SentTransaction struct {
	TransactionID  string
	TransactionHex string

	// Vout is the index of the output paying the destination address.
	Vout *uint32

	// Fee is the miner fee in minor units.
	Fee *uint64
}

// Provider is the wallet capability the swap engine consumes.
type Provider interface {
	Symbol() string

	GetBalance(ctx context.Context) (*Balance, error)

	// SendToAddress sends amount minor units to address. A satPerVbyte of 0
	// lets the node estimate the fee rate.
	SendToAddress(ctx context.Context, address string, amount uint64, satPerVbyte float64) (*SentTransaction, error)

	// SweepWallet sends the whole balance, confirmed and pending, to
	// address, deducting the miner fee from the swept amount.
	SweepWallet(ctx context.Context, address string, satPerVbyte float64) (*SentTransaction, error)
}
