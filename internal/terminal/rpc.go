package terminal

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"resty.dev/v3"
)

// Compile-time interface check.
var _ Terminal = (*RPCTerminal)(nil)

// RPCTerminal drives the terminal through its local RPC sidecar — the
// process the Launcher keeps alive. The sidecar owns the raw platform
// protocol; this adapter only moves JSON.
type RPCTerminal struct {
	c *resty.Client
}

// NewRPCTerminal points the adapter at the sidecar, e.g.
// http://127.0.0.1:18812.
func NewRPCTerminal(baseURL string) *RPCTerminal {
	return &RPCTerminal{c: resty.New().SetBaseURL(baseURL)}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type loginRequest struct {
	Login     uint64 `json:"login,omitempty"`
	Password  string `json:"password,omitempty"`
	Server    string `json:"server,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

func (t *RPCTerminal) post(path string, body interface{}) error {
	var rpcErr rpcError
	resp, err := t.c.R().SetBody(body).SetError(&rpcErr).Post(path)
	if err != nil {
		return errors.Wrapf(err, "terminal rpc %s", path)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		if rpcErr.Message != "" {
			return errors.New(rpcErr.Message)
		}
		return errors.Errorf("terminal rpc %s: %s", path, resp.Status())
	}
	return nil
}

func (t *RPCTerminal) get(path string, params map[string]string, result interface{}) error {
	var rpcErr rpcError
	resp, err := t.c.R().SetQueryParams(params).SetResult(result).SetError(&rpcErr).Get(path)
	if err != nil {
		return errors.Wrapf(err, "terminal rpc %s", path)
	}
	defer resp.Body.Close()

	if resp.IsError() {
		if rpcErr.Message != "" {
			return errors.New(rpcErr.Message)
		}
		return errors.Errorf("terminal rpc %s: %s", path, resp.Status())
	}
	return nil
}

func (t *RPCTerminal) InitializeAndLogin(login uint64, password, server string, timeout time.Duration) error {
	return t.post("/initialize", loginRequest{
		Login:     login,
		Password:  password,
		Server:    server,
		TimeoutMS: timeout.Milliseconds(),
	})
}

func (t *RPCTerminal) Initialize() error {
	return t.post("/initialize", loginRequest{})
}

func (t *RPCTerminal) Login(login uint64, password, server string, timeout time.Duration) error {
	return t.post("/login", loginRequest{
		Login:     login,
		Password:  password,
		Server:    server,
		TimeoutMS: timeout.Milliseconds(),
	})
}

func (t *RPCTerminal) Shutdown() {
	_ = t.post("/shutdown", nil)
}

func (t *RPCTerminal) AccountInfo() (*AccountInfo, error) {
	var info AccountInfo
	if err := t.get("/account", nil, &info); err != nil {
		return nil, err
	}
	if info.Login == 0 {
		return nil, nil
	}
	return &info, nil
}

func (t *RPCTerminal) Positions() ([]PositionInfo, error) {
	var positions []PositionInfo
	if err := t.get("/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (t *RPCTerminal) Orders() ([]OrderInfo, error) {
	var orders []OrderInfo
	if err := t.get("/orders", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (t *RPCTerminal) Deals(from, to time.Time) ([]Deal, error) {
	var deals []Deal
	err := t.get("/history/deals", timeRange(from, to), &deals)
	if err != nil {
		return nil, err
	}
	return deals, nil
}

func (t *RPCTerminal) HistoryOrders(from, to time.Time) ([]HistoryOrder, error) {
	var orders []HistoryOrder
	err := t.get("/history/orders", timeRange(from, to), &orders)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (t *RPCTerminal) CandlesRange(symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	params := timeRange(from, to)
	params["symbol"] = symbol
	params["timeframe"] = timeframe

	var candles []Candle
	if err := t.get("/candles", params, &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

func (t *RPCTerminal) CandlesCount(symbol, timeframe string, count int) ([]Candle, error) {
	var candles []Candle
	err := t.get("/candles", map[string]string{
		"symbol":    symbol,
		"timeframe": timeframe,
		"count":     strconv.Itoa(count),
	}, &candles)
	if err != nil {
		return nil, err
	}
	return candles, nil
}

func (t *RPCTerminal) SymbolInfo(symbol string) (*SymbolInfo, error) {
	var info SymbolInfo
	var rpcErr rpcError
	resp, err := t.c.R().SetResult(&info).SetError(&rpcErr).Get("/symbols/" + symbol)
	if err != nil {
		return nil, errors.Wrap(err, "terminal rpc /symbols")
	}
	defer resp.Body.Close()

	if resp.StatusCode() == 404 {
		return nil, nil
	}
	if resp.IsError() {
		if rpcErr.Message != "" {
			return nil, errors.New(rpcErr.Message)
		}
		return nil, errors.Errorf("terminal rpc /symbols: %s", resp.Status())
	}
	return &info, nil
}

func (t *RPCTerminal) SymbolSelect(symbol string) error {
	return t.post("/symbols/"+symbol+"/select", nil)
}

func timeRange(from, to time.Time) map[string]string {
	return map[string]string{
		"from": from.UTC().Format(time.RFC3339),
		"to":   to.UTC().Format(time.RFC3339),
	}
}
