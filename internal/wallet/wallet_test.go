package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tidepool-exchange/tidepool/internal/chain"
	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// fakeClient is an in-memory chain.ConfidentialClient for provider tests.
type fakeClient struct {
	symbol      string
	balances    *chain.Balances
	rawTx       *chain.RawTransaction
	walletTx    *chain.WalletTransaction
	addrInfo    map[string]*chain.AddressInfo
	addrInfoErr error

	lastSendOpts *chain.SendOptions
	lastAmount   uint64
}

func (f *fakeClient) Symbol() string { return f.symbol }

func (f *fakeClient) GetBalances(ctx context.Context) (*chain.Balances, error) {
	return f.balances, nil
}

func (f *fakeClient) GetNewAddress(ctx context.Context) (string, error) {
	return "addr", nil
}

func (f *fakeClient) SendToAddress(ctx context.Context, address string, amount uint64, opts *chain.SendOptions) (string, error) {
	f.lastSendOpts = opts
	f.lastAmount = amount
	return f.rawTx.TxID, nil
}

func (f *fakeClient) GetRawTransactionVerbose(ctx context.Context, txID string) (*chain.RawTransaction, error) {
	return f.rawTx, nil
}

func (f *fakeClient) GetWalletTransaction(ctx context.Context, txID string) (*chain.WalletTransaction, error) {
	if f.walletTx == nil {
		return &chain.WalletTransaction{TxID: txID}, nil
	}
	return f.walletTx, nil
}

func (f *fakeClient) BroadcastTransaction(ctx context.Context, rawHex string) (string, error) {
	return f.rawTx.TxID, nil
}

func (f *fakeClient) GetBlockCount(ctx context.Context) (int64, error) { return 100, nil }

func (f *fakeClient) EstimateFee(ctx context.Context, confTarget int64) (float64, error) {
	return 1, nil
}

func (f *fakeClient) GetAddressInfo(ctx context.Context, address string) (*chain.AddressInfo, error) {
	if f.addrInfoErr != nil {
		return nil, f.addrInfoErr
	}
	if info, ok := f.addrInfo[address]; ok {
		return info, nil
	}
	return &chain.AddressInfo{Address: address}, nil
}

func (f *fakeClient) DumpBlindingKey(ctx context.Context, address string) (string, error) {
	return "", nil
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		symbol: "BTC",
		balances: &chain.Balances{
			Trusted:          map[string]uint64{chain.DefaultAssetLabel: 150000000},
			UntrustedPending: map[string]uint64{chain.DefaultAssetLabel: 5000},
		},
		rawTx: &chain.RawTransaction{
			TxID: "txid",
			Hex:  "rawhex",
			Vout: []chain.TxOut{
				{N: 0, ScriptPubKey: chain.OutputScript{Address: "other"}},
				{N: 1, ScriptPubKey: chain.OutputScript{Address: "dest"}},
			},
		},
		walletTx: &chain.WalletTransaction{TxID: "txid", Fee: 210, HasFee: true},
	}
}

func TestCoreProviderBalance(t *testing.T) {
	provider := NewCoreWalletProvider(logging.Disabled(), newFakeClient())

	balance, err := provider.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.Confirmed != 150000000 || balance.Unconfirmed != 5000 {
		t.Errorf("unexpected balance: %+v", balance)
	}
	if balance.Total() != 150005000 {
		t.Errorf("total = %d", balance.Total())
	}
}

func TestCoreProviderSendResolvesVoutAndFee(t *testing.T) {
	client := newFakeClient()
	provider := NewCoreWalletProvider(logging.Disabled(), client)

	sent, err := provider.SendToAddress(context.Background(), "dest", 100000, 2)
	if err != nil {
		t.Fatalf("SendToAddress: %v", err)
	}

	if sent.TransactionID != "txid" || sent.TransactionHex != "rawhex" {
		t.Errorf("unexpected sent transaction: %+v", sent)
	}
	if sent.Vout == nil || *sent.Vout != 1 {
		t.Errorf("vout = %v, want 1", sent.Vout)
	}
	if sent.Fee == nil || *sent.Fee != 210 {
		t.Errorf("fee = %v, want 210", sent.Fee)
	}
	if client.lastSendOpts.SatPerVbyte != 2 {
		t.Errorf("fee rate not forwarded: %+v", client.lastSendOpts)
	}
}

func TestCoreProviderSendNoMatchingOutput(t *testing.T) {
	provider := NewCoreWalletProvider(logging.Disabled(), newFakeClient())

	sent, err := provider.SendToAddress(context.Background(), "unknown", 100000, 0)
	if err != nil {
		t.Fatalf("SendToAddress: %v", err)
	}
	if sent.Vout != nil {
		t.Errorf("vout = %v, want nil", sent.Vout)
	}
	if sent.Fee != nil {
		t.Errorf("fee = %v, want nil alongside the unresolved vout", sent.Fee)
	}
}

func TestCoreProviderAmbiguousOutput(t *testing.T) {
	client := newFakeClient()
	client.rawTx.Vout = append(client.rawTx.Vout, chain.TxOut{
		N:            2,
		ScriptPubKey: chain.OutputScript{Address: "dest"},
	})
	provider := NewCoreWalletProvider(logging.Disabled(), client)

	_, err := provider.SendToAddress(context.Background(), "dest", 100000, 0)
	if !errors.Is(err, ErrAmbiguousOutput) {
		t.Fatalf("err = %v, want ErrAmbiguousOutput", err)
	}
}

func TestCoreProviderSweepUnsupported(t *testing.T) {
	provider := NewCoreWalletProvider(logging.Disabled(), newFakeClient())

	if _, err := provider.SweepWallet(context.Background(), "dest", 1); !errors.Is(err, ErrSweepUnsupported) {
		t.Fatalf("err = %v, want ErrSweepUnsupported", err)
	}
}

func newFakeElementsClient() *fakeClient {
	client := newFakeClient()
	client.symbol = "L-BTC"
	client.balances = &chain.Balances{
		Trusted:          map[string]uint64{"bitcoin": 200000000, "otherasset": 7},
		UntrustedPending: map[string]uint64{"bitcoin": 50000000},
	}
	client.rawTx = &chain.RawTransaction{
		TxID: "txid",
		Hex:  "rawhex",
		Vout: []chain.TxOut{
			{N: 0, ScriptPubKey: chain.OutputScript{Address: "unconf-dest"}},
			{N: 1, Value: 0.00000321, ScriptPubKey: chain.OutputScript{Type: "fee"}},
		},
	}
	client.addrInfo = map[string]*chain.AddressInfo{
		"blinded-dest": {Address: "blinded-dest", Unconfidential: "unconf-dest"},
	}
	return client
}

func TestElementsProviderBalanceBucket(t *testing.T) {
	provider := NewElementsWalletProvider(logging.Disabled(), newFakeElementsClient(), "bitcoin")

	balance, err := provider.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.Confirmed != 200000000 {
		t.Errorf("confirmed = %d, want 200000000", balance.Confirmed)
	}
}

func TestElementsProviderSendMatchesUnconfidential(t *testing.T) {
	provider := NewElementsWalletProvider(logging.Disabled(), newFakeElementsClient(), "bitcoin")

	sent, err := provider.SendToAddress(context.Background(), "blinded-dest", 50000, 0)
	if err != nil {
		t.Fatalf("SendToAddress: %v", err)
	}

	if sent.Vout == nil || *sent.Vout != 0 {
		t.Errorf("vout = %v, want 0", sent.Vout)
	}
	if sent.Fee == nil || *sent.Fee != 321 {
		t.Errorf("fee = %v, want 321", sent.Fee)
	}
}

func TestElementsProviderAddressInfoErrorPropagates(t *testing.T) {
	client := newFakeElementsClient()
	client.addrInfoErr = errors.New("connection refused")
	provider := NewElementsWalletProvider(logging.Disabled(), client, "bitcoin")

	_, err := provider.SendToAddress(context.Background(), "blinded-dest", 50000, 0)
	if !errors.Is(err, client.addrInfoErr) {
		t.Fatalf("err = %v, want the address lookup failure", err)
	}
}

func TestElementsProviderSweepSubtractsFee(t *testing.T) {
	client := newFakeElementsClient()
	provider := NewElementsWalletProvider(logging.Disabled(), client, "bitcoin")

	sent, err := provider.SweepWallet(context.Background(), "blinded-dest", 1)
	if err != nil {
		t.Fatalf("SweepWallet: %v", err)
	}

	if !client.lastSendOpts.SubtractFee {
		t.Error("sweep did not subtract the fee from the sent amount")
	}
	if client.lastAmount != 250000000 {
		t.Errorf("swept amount = %d, want the full balance including pending", client.lastAmount)
	}
	if sent.TransactionID != "txid" {
		t.Errorf("unexpected transaction id %q", sent.TransactionID)
	}
}

func TestKeyProviderDerivation(t *testing.T) {
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

	provider, err := NewKeyProvider(mnemonic, &chaincfg.MainNetParams, 0, 5)
	if err != nil {
		t.Fatalf("NewKeyProvider: %v", err)
	}

	key, index, err := provider.NextKey()
	if err != nil {
		t.Fatalf("NextKey: %v", err)
	}
	if index != 5 {
		t.Errorf("index = %d, want 5", index)
	}

	again, err := provider.DeriveKey(index)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !key.Key.Equals(&again.Key) {
		t.Error("re-derived key differs")
	}

	_, next, err := provider.NextKey()
	if err != nil {
		t.Fatalf("NextKey: %v", err)
	}
	if next != 6 {
		t.Errorf("second index = %d, want 6", next)
	}

	if _, err := NewKeyProvider("not a mnemonic", &chaincfg.MainNetParams, 0, 0); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("err = %v, want ErrInvalidMnemonic", err)
	}
}
