package swap

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPair = errors.New("invalid pair id")

// OrderSide is the direction of a swap relative to its trading pair.
type OrderSide int

const (
	SideBuy OrderSide = iota
	SideSell
)

// ParseOrderSide parses the wire representation of an order side.
func ParseOrderSide(side string) (OrderSide, error) {
	switch strings.ToLower(side) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("invalid order side: %q", side)
	}
}

func (s OrderSide) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// SplitPairID splits a pair id like "BTC/L-BTC" into base and quote symbols.
func SplitPairID(pairID string) (base, quote string, err error) {
	parts := strings.Split(pairID, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPair, pairID)
	}
	return parts[0], parts[1], nil
}

// ChainCurrency returns the symbol of the on-chain leg of a swap.
func ChainCurrency(base, quote string, side OrderSide, isReverse bool) string {
	if side == SideBuy {
		if isReverse {
			return base
		}
		return quote
	}
	if isReverse {
		return quote
	}
	return base
}

// LightningCurrency returns the symbol of the off-chain leg of a swap.
func LightningCurrency(base, quote string, side OrderSide, isReverse bool) string {
	if ChainCurrency(base, quote, side, isReverse) == base {
		return quote
	}
	return base
}
