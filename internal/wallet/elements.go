package wallet

import (
	"context"

	"github.com/tidepool-exchange/tidepool/internal/chain"
	"github.com/tidepool-exchange/tidepool/pkg/helpers"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// feeOutputType is the scriptPubKey type of the dedicated fee output in a
// verbose confidential transaction decoding.
const feeOutputType = "fee"

// ElementsWalletProvider drives the wallet of a confidential-asset node.
// Destination addresses are usually blinded, so outputs are matched against
// the unconfidential form and the miner fee is read from the fee output.
type ElementsWalletProvider struct {
	client     chain.ConfidentialClient
	assetLabel string
	log        *logging.Logger
}

// NewElementsWalletProvider wraps a confidential chain client as a wallet
// provider tracking the balance bucket of assetLabel.
func NewElementsWalletProvider(logger *logging.Logger, client chain.ConfidentialClient, assetLabel string) *ElementsWalletProvider {
	if assetLabel == "" {
		assetLabel = chain.DefaultAssetLabel
	}
	return &ElementsWalletProvider{
		client:     client,
		assetLabel: assetLabel,
		log:        logger.Component("wallet-" + client.Symbol()),
	}
}

func (p *ElementsWalletProvider) Symbol() string {
	return p.client.Symbol()
}

// GetBalance returns the balance of the tracked asset bucket.
func (p *ElementsWalletProvider) GetBalance(ctx context.Context) (*Balance, error) {
	balances, err := p.client.GetBalances(ctx)
	if err != nil {
		return nil, err
	}

	return &Balance{
		Confirmed:   balances.Trusted[p.assetLabel],
		Unconfirmed: balances.UntrustedPending[p.assetLabel],
	}, nil
}

// SendToAddress sends amount minor units of the tracked asset.
func (p *ElementsWalletProvider) SendToAddress(ctx context.Context, address string, amount uint64, satPerVbyte float64) (*SentTransaction, error) {
	txID, err := p.client.SendToAddress(ctx, address, amount, &chain.SendOptions{
		SatPerVbyte: satPerVbyte,
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("sent transaction", "txid", txID, "amount", amount)

	return p.resolveSent(ctx, txID, address)
}

// SweepWallet sends the whole balance, confirmed and pending, with the fee
// deducted from it.
func (p *ElementsWalletProvider) SweepWallet(ctx context.Context, address string, satPerVbyte float64) (*SentTransaction, error) {
	balance, err := p.GetBalance(ctx)
	if err != nil {
		return nil, err
	}

	txID, err := p.client.SendToAddress(ctx, address, balance.Total(), &chain.SendOptions{
		SatPerVbyte: satPerVbyte,
		SubtractFee: true,
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("swept wallet", "txid", txID, "amount", balance.Total())

	return p.resolveSent(ctx, txID, address)
}

func (p *ElementsWalletProvider) resolveSent(ctx context.Context, txID, address string) (*SentTransaction, error) {
	raw, err := p.client.GetRawTransactionVerbose(ctx, txID)
	if err != nil {
		return nil, err
	}

	sent := &SentTransaction{
		TransactionID:  txID,
		TransactionHex: raw.Hex,
	}

	// Blinded outputs do not carry the confidential destination; match on
	// the unconfidential form instead.
	info, err := p.client.GetAddressInfo(ctx, address)
	if err != nil {
		return nil, err
	}
	matchAddress := address
	if info.Unconfidential != "" {
		matchAddress = info.Unconfidential
	}

	// Vout and fee resolve together or not at all.
	vout, err := findAddressVout(raw, matchAddress)
	if err != nil {
		return nil, err
	}
	if vout == nil {
		return sent, nil
	}

	for i := range raw.Vout {
		if raw.Vout[i].ScriptPubKey.Type == feeOutputType {
			fee := helpers.CoinsToSats(raw.Vout[i].Value)
			sent.Vout = vout
			sent.Fee = &fee
			break
		}
	}

	return sent, nil
}

var _ Provider = (*ElementsWalletProvider)(nil)
