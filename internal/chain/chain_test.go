package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// fakeNode answers JSON-RPC calls with canned results per method and records
// the last request of each method.
type fakeNode struct {
	results  map[string]interface{}
	rpcError map[string]*struct {
		Code    int
		Message string
	}
	lastParams map[string][]interface{}
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		results: make(map[string]interface{}),
		rpcError: make(map[string]*struct {
			Code    int
			Message string
		}),
		lastParams: make(map[string][]interface{}),
	}
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     interface{}   `json:"id"`
		Method string        `json:"method"`
		Params []interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.lastParams[req.Method] = req.Params

	resp := map[string]interface{}{"id": req.ID}
	if rpcErr, ok := f.rpcError[req.Method]; ok {
		resp["error"] = map[string]interface{}{"code": rpcErr.Code, "message": rpcErr.Message}
	} else if result, ok := f.results[req.Method]; ok {
		resp["result"] = result
	} else {
		resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
	}

	json.NewEncoder(w).Encode(resp)
}

func testRPCConfig(t *testing.T, node *fakeNode) RPCConfig {
	t.Helper()

	server := httptest.NewServer(node)
	t.Cleanup(server.Close)

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}

	return RPCConfig{Host: parsed.Hostname(), Port: port, User: "user", Pass: "pass"}
}

func TestBitcoinGetBalances(t *testing.T) {
	node := newFakeNode()
	node.results["getbalances"] = map[string]interface{}{
		"mine": map[string]interface{}{
			"trusted":           150000000,
			"untrusted_pending": 25000,
		},
	}

	client := NewBitcoinClient(logging.Disabled(), testRPCConfig(t, node), "BTC")
	balances, err := client.GetBalances(context.Background())
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}

	if balances.Trusted[DefaultAssetLabel] != 150000000 {
		t.Errorf("trusted = %d", balances.Trusted[DefaultAssetLabel])
	}
	if balances.UntrustedPending[DefaultAssetLabel] != 25000 {
		t.Errorf("untrusted = %d", balances.UntrustedPending[DefaultAssetLabel])
	}
}

func TestElementsGetBalancesRescales(t *testing.T) {
	node := newFakeNode()
	node.results["getbalances"] = map[string]interface{}{
		"mine": map[string]interface{}{
			"trusted": map[string]float64{
				"bitcoin": 1.5,
				"usdt":    0.00000321,
			},
			"untrusted_pending": map[string]float64{
				"bitcoin": 0.1,
			},
		},
	}

	client := NewElementsClient(logging.Disabled(), testRPCConfig(t, node), "L-BTC")
	balances, err := client.GetBalances(context.Background())
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}

	if balances.Trusted["bitcoin"] != 150000000 {
		t.Errorf("trusted bitcoin = %d", balances.Trusted["bitcoin"])
	}
	if balances.Trusted["usdt"] != 321 {
		t.Errorf("trusted usdt = %d", balances.Trusted["usdt"])
	}
	if balances.UntrustedPending["bitcoin"] != 10000000 {
		t.Errorf("untrusted bitcoin = %d", balances.UntrustedPending["bitcoin"])
	}
}

func TestRPCErrorWrapping(t *testing.T) {
	node := newFakeNode()
	node.rpcError["sendtoaddress"] = &struct {
		Code    int
		Message string
	}{Code: -6, Message: "Insufficient funds"}

	client := NewBitcoinClient(logging.Disabled(), testRPCConfig(t, node), "BTC")
	_, err := client.SendToAddress(context.Background(), "bc1qtest", 1000, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("error type %T", err)
	}
	if rpcErr.Method != "sendtoaddress" || rpcErr.Code != -6 {
		t.Errorf("rpcErr = %+v", rpcErr)
	}
}

func TestSendToAddressParams(t *testing.T) {
	node := newFakeNode()
	node.results["sendtoaddress"] = "txid-1"

	client := NewBitcoinClient(logging.Disabled(), testRPCConfig(t, node), "BTC")
	txID, err := client.SendToAddress(context.Background(), "bc1qtest", 12345, &SendOptions{
		SatPerVbyte: 3,
		SubtractFee: true,
	})
	if err != nil {
		t.Fatalf("SendToAddress: %v", err)
	}
	if txID != "txid-1" {
		t.Errorf("txID = %s", txID)
	}

	params := node.lastParams["sendtoaddress"]
	if len(params) < 2 {
		t.Fatalf("params = %v", params)
	}
	if params[1] != "0.00012345" {
		t.Errorf("amount = %v", params[1])
	}
	if params[4] != true {
		t.Errorf("subtractfeefromamount = %v", params[4])
	}
	if params[len(params)-1] != float64(3) {
		t.Errorf("fee_rate = %v", params[len(params)-1])
	}
}

func TestGetWalletTransactionFee(t *testing.T) {
	node := newFakeNode()
	node.results["gettransaction"] = map[string]interface{}{
		"txid":          "txid-2",
		"fee":           -0.00000200,
		"confirmations": 3,
	}

	client := NewBitcoinClient(logging.Disabled(), testRPCConfig(t, node), "BTC")
	tx, err := client.GetWalletTransaction(context.Background(), "txid-2")
	if err != nil {
		t.Fatalf("GetWalletTransaction: %v", err)
	}

	if !tx.HasFee || tx.Fee != 200 {
		t.Errorf("fee = %d, hasFee = %v", tx.Fee, tx.HasFee)
	}
	if tx.Confirmations != 3 {
		t.Errorf("confirmations = %d", tx.Confirmations)
	}
}

func TestEstimateFee(t *testing.T) {
	tests := []struct {
		name    string
		feeRate float64
		want    float64
	}{
		{"normal rate", 0.00002, 2},
		{"clamped to floor", 0.000001, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode()
			node.results["estimatesmartfee"] = map[string]interface{}{"feerate": tt.feeRate}

			client := NewBitcoinClient(logging.Disabled(), testRPCConfig(t, node), "BTC")
			rate, err := client.EstimateFee(context.Background(), 2)
			if err != nil {
				t.Fatalf("EstimateFee: %v", err)
			}
			if rate != tt.want {
				t.Errorf("rate = %f, want %f", rate, tt.want)
			}
		})
	}
}

func TestGetAddressInfo(t *testing.T) {
	node := newFakeNode()
	node.results["getaddressinfo"] = map[string]interface{}{
		"address":        "el1qqblinded",
		"unconfidential": "ert1qplain",
		"scriptPubKey":   "0014abcdef",
	}

	client := NewElementsClient(logging.Disabled(), testRPCConfig(t, node), "L-BTC")
	info, err := client.GetAddressInfo(context.Background(), "el1qqblinded")
	if err != nil {
		t.Fatalf("GetAddressInfo: %v", err)
	}

	if info.Unconfidential != "ert1qplain" || info.ScriptPubKeyHex != "0014abcdef" {
		t.Errorf("info = %+v", info)
	}
}

func TestRegistryImmutableLookup(t *testing.T) {
	btc := &Currency{Symbol: "BTC"}
	registry, err := NewRegistry([]*Currency{btc, {Symbol: "L-BTC"}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	got, ok := registry.Get("BTC")
	if !ok || got != btc {
		t.Errorf("Get(BTC) = %v, %v", got, ok)
	}
	if _, ok := registry.Get("DOGE"); ok {
		t.Error("unexpected currency")
	}

	symbols := registry.Symbols()
	if len(symbols) != 2 || symbols[0] != "BTC" || symbols[1] != "L-BTC" {
		t.Errorf("symbols = %v", symbols)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]*Currency{{Symbol: "BTC"}, {Symbol: "BTC"}})
	if err == nil {
		t.Fatal("expected error")
	}
}
