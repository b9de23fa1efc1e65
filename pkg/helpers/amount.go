// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"math"
)

// CoinDecimals is the number of decimal places of the supported UTXO chains.
const CoinDecimals = 8

// CoinMultiplier converts a chain's display denomination to its smallest unit.
const CoinMultiplier = 1e8

// CoinsToSats converts a floating point coin amount, as returned by node RPCs,
// to satoshis. Rounds up so fees are never under-reported.
func CoinsToSats(coins float64) uint64 {
	return uint64(math.Ceil(coins * CoinMultiplier))
}
