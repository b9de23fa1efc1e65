package chain

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// BitcoinClient talks to a Bitcoin Core style node. It is the standard-chain
// variant of the ledger client: balance values reported by the backend are
// treated as already minor-unit-denominated.
type BitcoinClient struct {
	symbol string
	conn   *rpcConn
	log    *logging.Logger
}

// NewBitcoinClient creates a ledger client for a plain UTXO chain.
func NewBitcoinClient(logger *logging.Logger, cfg RPCConfig, symbol string) *BitcoinClient {
	return &BitcoinClient{
		symbol: symbol,
		conn:   newRPCConn(cfg),
		log:    logger.Component(symbol + "-chain"),
	}
}

// Symbol returns the configured currency symbol.
func (c *BitcoinClient) Symbol() string {
	return c.symbol
}

// rawBalances mirrors the getbalances wallet RPC. The buckets are raw JSON
// because plain chains report scalars while confidential chains report
// per-asset objects.
type rawBalances struct {
	Mine struct {
		Trusted          json.RawMessage `json:"trusted"`
		UntrustedPending json.RawMessage `json:"untrusted_pending"`
	} `json:"mine"`
}

// decodeBucket normalizes a balance bucket to a per-asset map. A scalar value
// is filed under DefaultAssetLabel.
func decodeBucket(raw json.RawMessage) (map[string]float64, error) {
	if len(raw) == 0 {
		return map[string]float64{}, nil
	}

	var asMap map[string]float64
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}

	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return nil, err
	}

	return map[string]float64{DefaultAssetLabel: scalar}, nil
}

func (c *BitcoinClient) getRawBalances(ctx context.Context) (trusted, untrusted map[string]float64, err error) {
	var raw rawBalances
	if err := c.conn.callInto(ctx, "getbalances", &raw); err != nil {
		return nil, nil, err
	}

	trusted, err = decodeBucket(raw.Mine.Trusted)
	if err != nil {
		return nil, nil, &RPCError{Method: "getbalances", Err: err}
	}

	untrusted, err = decodeBucket(raw.Mine.UntrustedPending)
	if err != nil {
		return nil, nil, &RPCError{Method: "getbalances", Err: err}
	}

	return trusted, untrusted, nil
}

// GetBalances returns the wallet's balance buckets. The standard variant does
// not rescale: the backend already reports minor units.
func (c *BitcoinClient) GetBalances(ctx context.Context) (*Balances, error) {
	trusted, untrusted, err := c.getRawBalances(ctx)
	if err != nil {
		return nil, err
	}

	balances := &Balances{
		Trusted:          make(map[string]uint64, len(trusted)),
		UntrustedPending: make(map[string]uint64, len(untrusted)),
	}
	for label, value := range trusted {
		balances.Trusted[label] = uint64(value)
	}
	for label, value := range untrusted {
		balances.UntrustedPending[label] = uint64(value)
	}

	return balances, nil
}

// GetNewAddress returns a fresh wallet address.
func (c *BitcoinClient) GetNewAddress(ctx context.Context) (string, error) {
	var address string
	if err := c.conn.callInto(ctx, "getnewaddress", &address); err != nil {
		return "", err
	}
	return address, nil
}

// formatCoinAmount renders a satoshi amount as the decimal string the
// sendtoaddress RPC expects. A string avoids float rounding in the request.
func formatCoinAmount(amount uint64) string {
	whole := amount / 1e8
	frac := amount % 1e8

	s := strconv.FormatUint(whole, 10) + "."
	fracStr := strconv.FormatUint(frac, 10)
	for len(fracStr) < 8 {
		fracStr = "0" + fracStr
	}
	return s + fracStr
}

// SendToAddress sends amount satoshis to address and returns the transaction id.
func (c *BitcoinClient) SendToAddress(ctx context.Context, address string, amount uint64, opts *SendOptions) (string, error) {
	params := []interface{}{address, formatCoinAmount(amount)}

	if opts != nil && (opts.SubtractFee || opts.SatPerVbyte > 0) {
		// comment, comment_to, subtractfeefromamount, replaceable,
		// conf_target, estimate_mode, avoid_reuse, fee_rate
		params = append(params, "", "", opts.SubtractFee, true, nil, nil, false)
		if opts.SatPerVbyte > 0 {
			params = append(params, opts.SatPerVbyte)
		}
	}

	var txID string
	if err := c.conn.callInto(ctx, "sendtoaddress", &txID, params...); err != nil {
		return "", err
	}

	c.log.Debug("Sent transaction", "txid", txID, "amount", amount)
	return txID, nil
}

// GetRawTransactionVerbose fetches the decoded form of a transaction.
func (c *BitcoinClient) GetRawTransactionVerbose(ctx context.Context, txID string) (*RawTransaction, error) {
	var tx RawTransaction
	if err := c.conn.callInto(ctx, "getrawtransaction", &tx, txID, true); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetWalletTransaction fetches the wallet's view of one of its transactions.
func (c *BitcoinClient) GetWalletTransaction(ctx context.Context, txID string) (*WalletTransaction, error) {
	var raw struct {
		TxID          string   `json:"txid"`
		Fee           *float64 `json:"fee"`
		Confirmations int64    `json:"confirmations"`
	}
	if err := c.conn.callInto(ctx, "gettransaction", &raw, txID); err != nil {
		return nil, err
	}

	tx := &WalletTransaction{
		TxID:          raw.TxID,
		Confirmations: raw.Confirmations,
	}
	if raw.Fee != nil {
		fee := *raw.Fee
		if fee < 0 {
			fee = -fee
		}
		// The wallet reports fees in coin denomination regardless of family.
		tx.Fee = uint64(fee*1e8 + 0.5)
		tx.HasFee = true
	}

	return tx, nil
}

// BroadcastTransaction submits a serialized transaction to the network.
func (c *BitcoinClient) BroadcastTransaction(ctx context.Context, rawHex string) (string, error) {
	var txID string
	if err := c.conn.callInto(ctx, "sendrawtransaction", &txID, rawHex); err != nil {
		return "", err
	}
	return txID, nil
}

// GetBlockCount returns the current chain height.
func (c *BitcoinClient) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	if err := c.conn.callInto(ctx, "getblockcount", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// EstimateFee returns a fee rate in sat/vB, never below 1.
func (c *BitcoinClient) EstimateFee(ctx context.Context, confTarget int64) (float64, error) {
	var result struct {
		FeeRate float64 `json:"feerate"`
	}
	if err := c.conn.callInto(ctx, "estimatesmartfee", &result, confTarget); err != nil {
		return 0, err
	}

	// estimatesmartfee reports coin/kvB
	satPerVbyte := result.FeeRate * 1e8 / 1000
	if satPerVbyte < 1 {
		satPerVbyte = 1
	}
	return satPerVbyte, nil
}

var _ Client = (*BitcoinClient)(nil)
