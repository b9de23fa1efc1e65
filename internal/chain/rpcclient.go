package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// rpcConn issues JSON-RPC 2.0 calls against a single node wallet endpoint
// with HTTP basic auth.
type rpcConn struct {
	url        string
	user       string
	pass       string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// RPCConfig holds the connection parameters of a node's JSON-RPC interface.
type RPCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	// Wallet selects a loaded wallet on multi-wallet nodes. Optional.
	Wallet string `yaml:"wallet"`
}

func newRPCConn(cfg RPCConfig) *rpcConn {
	url := fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	if cfg.Wallet != "" {
		url += "/wallet/" + cfg.Wallet
	}

	return &rpcConn{
		url:  url,
		user: cfg.User,
		pass: cfg.Pass,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// call executes a single RPC method. Every failure, transport or fault, is
// wrapped in an *RPCError carrying the method name.
func (c *rpcConn) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)

	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, &RPCError{Method: method, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(data))
	if err != nil {
		return nil, &RPCError{Method: method, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RPCError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RPCError{Method: method, Err: err}
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &RPCError{Method: method, Err: fmt.Errorf("malformed response: %w", err)}
	}

	if response.Error != nil {
		return nil, &RPCError{
			Method:  method,
			Code:    response.Error.Code,
			Message: response.Error.Message,
		}
	}

	return response.Result, nil
}

// callInto executes an RPC method and unmarshals the result into out.
func (c *rpcConn) callInto(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	result, err := c.call(ctx, method, params)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(result, out); err != nil {
		return &RPCError{Method: method, Err: fmt.Errorf("malformed result: %w", err)}
	}

	return nil
}
