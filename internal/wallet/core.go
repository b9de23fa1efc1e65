package wallet

import (
	"context"

	"github.com/tidepool-exchange/tidepool/internal/chain"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// CoreWalletProvider drives the wallet of a plain Bitcoin-like node.
type CoreWalletProvider struct {
	client chain.Client
	log    *logging.Logger
}

// NewCoreWalletProvider wraps a plain chain client as a wallet provider.
func NewCoreWalletProvider(logger *logging.Logger, client chain.Client) *CoreWalletProvider {
	return &CoreWalletProvider{
		client: client,
		log:    logger.Component("wallet-" + client.Symbol()),
	}
}

func (p *CoreWalletProvider) Symbol() string {
	return p.client.Symbol()
}

// GetBalance returns the base asset balance of the node wallet.
func (p *CoreWalletProvider) GetBalance(ctx context.Context) (*Balance, error) {
	balances, err := p.client.GetBalances(ctx)
	if err != nil {
		return nil, err
	}

	return &Balance{
		Confirmed:   balances.Trusted[chain.DefaultAssetLabel],
		Unconfirmed: balances.UntrustedPending[chain.DefaultAssetLabel],
	}, nil
}

// SendToAddress sends amount minor units and resolves the paid output index
// and miner fee from the node's view of the broadcast transaction.
func (p *CoreWalletProvider) SendToAddress(ctx context.Context, address string, amount uint64, satPerVbyte float64) (*SentTransaction, error) {
	txID, err := p.client.SendToAddress(ctx, address, amount, &chain.SendOptions{
		SatPerVbyte: satPerVbyte,
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("sent transaction", "txid", txID, "amount", amount)

	return p.resolveSent(ctx, txID, address)
}

// SweepWallet is not available for this family.
func (p *CoreWalletProvider) SweepWallet(ctx context.Context, address string, satPerVbyte float64) (*SentTransaction, error) {
	return nil, ErrSweepUnsupported
}

// resolveSent looks up the broadcast transaction and fills in the output
// index paying address plus the miner fee the wallet reported.
func (p *CoreWalletProvider) resolveSent(ctx context.Context, txID, address string) (*SentTransaction, error) {
	raw, err := p.client.GetRawTransactionVerbose(ctx, txID)
	if err != nil {
		return nil, err
	}

	sent := &SentTransaction{
		TransactionID:  txID,
		TransactionHex: raw.Hex,
	}

	// Vout and fee resolve together or not at all.
	vout, err := findAddressVout(raw, address)
	if err != nil {
		return nil, err
	}
	if vout == nil {
		return sent, nil
	}

	walletTx, err := p.client.GetWalletTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !walletTx.HasFee {
		return sent, nil
	}

	fee := walletTx.Fee
	sent.Vout = vout
	sent.Fee = &fee
	return sent, nil
}

// findAddressVout returns the index of the single output paying address, nil
// when no output matches and ErrAmbiguousOutput when several do.
func findAddressVout(raw *chain.RawTransaction, address string) (*uint32, error) {
	var found *uint32
	for i := range raw.Vout {
		if !raw.Vout[i].ScriptPubKey.MatchesAddress(address) {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousOutput
		}
		n := raw.Vout[i].N
		found = &n
	}
	return found, nil
}

var _ Provider = (*CoreWalletProvider)(nil)
