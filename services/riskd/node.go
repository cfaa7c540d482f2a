package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/risk"
)

const nodeCallTimeout = 5 * time.Second

// NodeClient is a lightweight JSON-RPC client for the chain node that hosts
// the market ledgers and the price feed.
type NodeClient struct {
	baseURL   string
	authToken string
	http      *http.Client
	log       *slog.Logger
	nextID    atomic.Int64
}

// NewNodeClient constructs a new RPC client.
func NewNodeClient(baseURL, authToken string, log *slog.Logger) *NodeClient {
	if log == nil {
		log = slog.Default()
	}
	return &NodeClient{
		baseURL:   baseURL,
		authToken: authToken,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// BlockNumber fetches the current chain height.
func (c *NodeClient) BlockNumber(ctx context.Context) (uint64, error) {
	var result struct {
		Height uint64 `json:"height"`
	}
	if err := c.call(ctx, "chain_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return result.Height, nil
}

// UnderlyingPrice fetches the 1e18-mantissa underlying price of a market.
func (c *NodeClient) UnderlyingPrice(ctx context.Context, market common.Address) (*big.Int, error) {
	var result struct {
		Price string `json:"price"`
	}
	params := []interface{}{market.Hex()}
	if err := c.call(ctx, "oracle_getUnderlyingPrice", params, &result); err != nil {
		return nil, err
	}
	return parseBig(result.Price)
}

type marketSnapshot struct {
	TotalSupply  *big.Int
	TotalBorrows *big.Int
	ExchangeRate *big.Int
	BorrowIndex  *big.Int
}

// MarketSnapshot fetches the aggregate ledger figures of a market.
func (c *NodeClient) MarketSnapshot(ctx context.Context, market common.Address) (marketSnapshot, error) {
	var result struct {
		TotalSupply  string `json:"totalSupply"`
		TotalBorrows string `json:"totalBorrows"`
		ExchangeRate string `json:"exchangeRate"`
		BorrowIndex  string `json:"borrowIndex"`
	}
	params := []interface{}{market.Hex()}
	if err := c.call(ctx, "lending_marketSnapshot", params, &result); err != nil {
		return marketSnapshot{}, err
	}
	snap := marketSnapshot{}
	var err error
	if snap.TotalSupply, err = parseBig(result.TotalSupply); err != nil {
		return marketSnapshot{}, err
	}
	if snap.TotalBorrows, err = parseBig(result.TotalBorrows); err != nil {
		return marketSnapshot{}, err
	}
	if snap.ExchangeRate, err = parseBig(result.ExchangeRate); err != nil {
		return marketSnapshot{}, err
	}
	if snap.BorrowIndex, err = parseBig(result.BorrowIndex); err != nil {
		return marketSnapshot{}, err
	}
	return snap, nil
}

type accountSnapshot struct {
	Balance       *big.Int
	BorrowBalance *big.Int
}

// AccountSnapshot fetches one account's balances in a market.
func (c *NodeClient) AccountSnapshot(ctx context.Context, market, account common.Address) (accountSnapshot, error) {
	var result struct {
		Balance       string `json:"balance"`
		BorrowBalance string `json:"borrowBalance"`
	}
	params := []interface{}{market.Hex(), account.Hex()}
	if err := c.call(ctx, "lending_accountSnapshot", params, &result); err != nil {
		return accountSnapshot{}, err
	}
	snap := accountSnapshot{}
	var err error
	if snap.Balance, err = parseBig(result.Balance); err != nil {
		return accountSnapshot{}, err
	}
	if snap.BorrowBalance, err = parseBig(result.BorrowBalance); err != nil {
		return accountSnapshot{}, err
	}
	return snap, nil
}

func (c *NodeClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rpc %s failed: status=%d", method, resp.StatusCode)
	}
	var rpcResp struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("node rpc error: %s", rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("node rpc returned empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func parseBig(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("node rpc returned empty number")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("node rpc returned malformed number %q", trimmed)
	}
	return parsed, nil
}

// nodeOracle adapts the node's price feed to the engine's oracle interface.
// Errors surface as nil prices, which the engine treats as a stale feed.
type nodeOracle struct {
	client *NodeClient
}

func (o *nodeOracle) GetUnderlyingPrice(market common.Address) *big.Int {
	ctx, cancel := context.WithTimeout(context.Background(), nodeCallTimeout)
	defer cancel()
	price, err := o.client.UnderlyingPrice(ctx, market)
	if err != nil {
		o.client.log.Warn("price lookup failed", "market", market.Hex(), "error", err)
		return nil
	}
	return price
}

// nodeAccounting adapts one market's node-side ledger to the engine's
// accounting interface. Errors surface as nil values.
type nodeAccounting struct {
	client *NodeClient
	market common.Address
}

// NewNodeAccounting returns a MarketAccounting view backed by the node.
func NewNodeAccounting(client *NodeClient, market common.Address) risk.MarketAccounting {
	return &nodeAccounting{client: client, market: market}
}

func (a *nodeAccounting) snapshot() (marketSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nodeCallTimeout)
	defer cancel()
	snap, err := a.client.MarketSnapshot(ctx, a.market)
	if err != nil {
		a.client.log.Warn("market snapshot failed", "market", a.market.Hex(), "error", err)
	}
	return snap, err
}

func (a *nodeAccounting) account(account common.Address) (accountSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nodeCallTimeout)
	defer cancel()
	snap, err := a.client.AccountSnapshot(ctx, a.market, account)
	if err != nil {
		a.client.log.Warn("account snapshot failed", "market", a.market.Hex(), "account", account.Hex(), "error", err)
	}
	return snap, err
}

func (a *nodeAccounting) TotalSupply() *big.Int {
	snap, err := a.snapshot()
	if err != nil {
		return nil
	}
	return snap.TotalSupply
}

func (a *nodeAccounting) TotalBorrows() *big.Int {
	snap, err := a.snapshot()
	if err != nil {
		return nil
	}
	return snap.TotalBorrows
}

func (a *nodeAccounting) ExchangeRateStored() *big.Int {
	snap, err := a.snapshot()
	if err != nil {
		return nil
	}
	return snap.ExchangeRate
}

func (a *nodeAccounting) BorrowIndex() *big.Int {
	snap, err := a.snapshot()
	if err != nil {
		return nil
	}
	return snap.BorrowIndex
}

func (a *nodeAccounting) BalanceOf(account common.Address) *big.Int {
	snap, err := a.account(account)
	if err != nil {
		return nil
	}
	return snap.Balance
}

func (a *nodeAccounting) BorrowBalanceStored(account common.Address) *big.Int {
	snap, err := a.account(account)
	if err != nil {
		return nil
	}
	return snap.BorrowBalance
}
