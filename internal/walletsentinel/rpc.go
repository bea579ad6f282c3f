package walletsentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// BalanceClient fetches the current balance of a wallet in native units
// (SOL for solana, ETH for evm chains).
type BalanceClient interface {
	Balance(ctx context.Context, chain, rpcURL, address string) (float64, error)
}

// RPCClient queries chain JSON-RPC endpoints for wallet balances.
type RPCClient struct {
	http *http.Client
}

// NewRPCClient creates a balance client with a bounded request timeout.
func NewRPCClient(timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RPCClient{http: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Balance dispatches on chain. Solana balances come back as lamports inside
// a value envelope; evm balances as hex-encoded wei.
func (c *RPCClient) Balance(ctx context.Context, chain, rpcURL, address string) (float64, error) {
	switch strings.ToLower(chain) {
	case "solana":
		return c.solanaBalance(ctx, rpcURL, address)
	case "ethereum", "evm", "base", "arbitrum", "polygon":
		return c.evmBalance(ctx, rpcURL, address)
	default:
		return 0, fmt.Errorf("unsupported chain %q", chain)
	}
}

func (c *RPCClient) solanaBalance(ctx context.Context, rpcURL, address string) (float64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, rpcURL, "getBalance", []any{address}, &result); err != nil {
		return 0, err
	}
	return float64(result.Value) / 1e9, nil
}

func (c *RPCClient) evmBalance(ctx context.Context, rpcURL, address string) (float64, error) {
	var hexWei string
	if err := c.call(ctx, rpcURL, "eth_getBalance", []any{address, "latest"}, &hexWei); err != nil {
		return 0, err
	}
	wei, ok := new(big.Int).SetString(strings.TrimPrefix(hexWei, "0x"), 16)
	if !ok {
		return 0, fmt.Errorf("malformed balance %q", hexWei)
	}
	eth, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return eth, nil
}

func (c *RPCClient) call(ctx context.Context, rpcURL, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	return json.Unmarshal(envelope.Result, result)
}
