// Package chain provides the ledger client abstraction used by the swap engine.
// Two UTXO families are supported: plain Bitcoin-like chains and confidential
// Elements-based sidechains. Both are driven over the node's JSON-RPC wallet API.
package chain

import (
	"context"
	"errors"
	"fmt"
)

// DefaultAssetLabel is the bucket key the wallet RPC uses for the base asset.
// Plain chains report a single scalar balance which is normalized under this
// label so both families expose the same shape.
const DefaultAssetLabel = "bitcoin"

var (
	ErrNotConfidential = errors.New("operation requires a confidential chain client")
)

// RPCError is returned for every backend transport failure or RPC fault.
// It carries the backend method name; no retries happen at this layer.
type RPCError struct {
	Method  string
	Code    int
	Message string
	Err     error
}

func (e *RPCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain rpc %s: %v", e.Method, e.Err)
	}
	return fmt.Sprintf("chain rpc %s: %d: %s", e.Method, e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// Balances holds per-asset balance buckets in minor units (satoshis).
type Balances struct {
	Trusted          map[string]uint64
	UntrustedPending map[string]uint64
}

// OutputScript is the decoded scriptPubKey of a transaction output.
type OutputScript struct {
	Hex       string   `json:"hex"`
	Type      string   `json:"type"`
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
}

// MatchesAddress reports whether the script resolves to the given address.
func (s *OutputScript) MatchesAddress(address string) bool {
	if s.Address == address {
		return true
	}
	for _, a := range s.Addresses {
		if a == address {
			return true
		}
	}
	return false
}

// TxOut is one output of a verbose raw transaction.
type TxOut struct {
	Value        float64      `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey OutputScript `json:"scriptPubKey"`
}

// RawTransaction is the verbose decoding of a transaction.
type RawTransaction struct {
	TxID          string  `json:"txid"`
	Hex           string  `json:"hex"`
	LockTime      uint32  `json:"locktime"`
	Confirmations int64   `json:"confirmations"`
	Vout          []TxOut `json:"vout"`
}

// WalletTransaction is the wallet's view of one of its own transactions.
// Fee is negative in the raw response; it is normalized to positive satoshis.
type WalletTransaction struct {
	TxID          string
	Fee           uint64
	HasFee        bool
	Confirmations int64
}

// AddressInfo describes a wallet address. Confidential chains additionally
// report the unconfidential form underlying a blinded address.
type AddressInfo struct {
	Address         string `json:"address"`
	Unconfidential  string `json:"unconfidential"`
	Confidential    string `json:"confidential"`
	IsMine          bool   `json:"ismine"`
	ScriptPubKeyHex string `json:"scriptPubKey"`
}

// SendOptions are the optional knobs of SendToAddress.
type SendOptions struct {
	// SatPerVbyte overrides the node's fee estimation when > 0.
	SatPerVbyte float64
	// SubtractFee deducts the fee from the sent amount. Used by sweeps.
	SubtractFee bool
}

// Client is the capability set shared by both chain families.
type Client interface {
	Symbol() string

	// GetBalances returns per-asset balance buckets in minor units.
	GetBalances(ctx context.Context) (*Balances, error)

	GetNewAddress(ctx context.Context) (string, error)

	// SendToAddress sends amount satoshis and returns the transaction id.
	SendToAddress(ctx context.Context, address string, amount uint64, opts *SendOptions) (string, error)

	GetRawTransactionVerbose(ctx context.Context, txID string) (*RawTransaction, error)
	GetWalletTransaction(ctx context.Context, txID string) (*WalletTransaction, error)
	BroadcastTransaction(ctx context.Context, rawHex string) (string, error)
	GetBlockCount(ctx context.Context) (int64, error)

	// EstimateFee returns a fee rate in sat/vB for the given confirmation target.
	EstimateFee(ctx context.Context, confTarget int64) (float64, error)
}

// ConfidentialClient extends Client with the operations only the confidential
// family exposes. Selected per Currency at configuration time.
type ConfidentialClient interface {
	Client

	// GetAddressInfo resolves the unconfidential form of a blinded address.
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)

	// DumpBlindingKey returns the blinding key material for an address.
	DumpBlindingKey(ctx context.Context, address string) (string, error)
}
