package chain

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/tidepool-exchange/tidepool/internal/lightning"
)

// Currency is a configured ledger identity. Immutable after startup.
type Currency struct {
	Symbol string
	Params *chaincfg.Params

	// Client is the ledger RPC client. For confidential chains it also
	// satisfies ConfidentialClient.
	Client Client

	// Lightning is the off-chain payment client of this currency, nil when
	// the deployment has no off-chain leg for it.
	Lightning lightning.Client

	// Confidential-chain metadata, empty for the standard family.

	// AssetLabel is the balance bucket key of the base asset.
	AssetLabel string
	// AssetHash is the network's base asset identifier, required on every
	// output of a confidential transaction.
	AssetHash string
}

// IsConfidential reports whether the currency runs on a confidential-asset chain.
func (c *Currency) IsConfidential() bool {
	_, ok := c.Client.(ConfidentialClient)
	return ok
}

// Registry is the immutable symbol-to-Currency mapping. It is built once at
// startup and passed by reference into every component that needs ledger
// access; there is no ambient global lookup.
type Registry struct {
	currencies map[string]*Currency
}

// NewRegistry builds a registry from the configured currencies.
func NewRegistry(currencies []*Currency) (*Registry, error) {
	bySymbol := make(map[string]*Currency, len(currencies))
	for _, currency := range currencies {
		if currency.Symbol == "" {
			return nil, fmt.Errorf("currency without symbol")
		}
		if _, ok := bySymbol[currency.Symbol]; ok {
			return nil, fmt.Errorf("duplicate currency: %s", currency.Symbol)
		}
		bySymbol[currency.Symbol] = currency
	}

	return &Registry{currencies: bySymbol}, nil
}

// Get returns the currency for a symbol.
func (r *Registry) Get(symbol string) (*Currency, bool) {
	currency, ok := r.currencies[symbol]
	return currency, ok
}

// Symbols returns all registered symbols in stable order.
func (r *Registry) Symbols() []string {
	symbols := make([]string, 0, len(r.currencies))
	for symbol := range r.currencies {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}
