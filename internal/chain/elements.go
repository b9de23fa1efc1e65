package chain

import (
	"context"

	"github.com/tidepool-exchange/tidepool/pkg/helpers"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// ElementsClient talks to an Elements style confidential-asset node. It shares
// the RPC surface of BitcoinClient but rescales balance responses: the backend
// reports every value in coin denomination, so every numeric leaf of every
// bucket has to be multiplied by the minor-unit multiplier exactly once.
type ElementsClient struct {
	*BitcoinClient
}

// NewElementsClient creates a ledger client for a confidential-asset sidechain.
func NewElementsClient(logger *logging.Logger, cfg RPCConfig, symbol string) *ElementsClient {
	return &ElementsClient{
		BitcoinClient: NewBitcoinClient(logger, cfg, symbol),
	}
}

// GetBalances returns the wallet's per-asset balance buckets with every leaf
// scaled to minor units. Trusted and untrusted_pending are both rescaled;
// missing a leaf would produce a silently wrong balance.
func (c *ElementsClient) GetBalances(ctx context.Context) (*Balances, error) {
	trusted, untrusted, err := c.getRawBalances(ctx)
	if err != nil {
		return nil, err
	}

	balances := &Balances{
		Trusted:          make(map[string]uint64, len(trusted)),
		UntrustedPending: make(map[string]uint64, len(untrusted)),
	}
	for label, value := range trusted {
		balances.Trusted[label] = helpers.CoinsToSats(value)
	}
	for label, value := range untrusted {
		balances.UntrustedPending[label] = helpers.CoinsToSats(value)
	}

	return balances, nil
}

// GetAddressInfo resolves address metadata, including the unconfidential form
// underlying a blinded address.
func (c *ElementsClient) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var info AddressInfo
	if err := c.conn.callInto(ctx, "getaddressinfo", &info, address); err != nil {
		return nil, err
	}
	return &info, nil
}

// DumpBlindingKey returns the blinding private key of a confidential address.
func (c *ElementsClient) DumpBlindingKey(ctx context.Context, address string) (string, error) {
	var key string
	if err := c.conn.callInto(ctx, "dumpblindingkey", &key, address); err != nil {
		return "", err
	}
	return key, nil
}

var _ ConfidentialClient = (*ElementsClient)(nil)
