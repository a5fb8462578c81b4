package terminal

import (
	"time"
)

// AccountInfo is the financial snapshot reported by the terminal for the
// account currently logged in.
type AccountInfo struct {
	Login       uint64  `json:"login"`
	Name        string  `json:"name"`
	Server      string  `json:"server"`
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Leverage    int     `json:"leverage"`
	Currency    string  `json:"currency"`
}

// PositionInfo is one open position as reported by the terminal.
type PositionInfo struct {
	Ticket       string    `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Type         string    `json:"type"` // BUY or SELL
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     *float64  `json:"sl"`
	TakeProfit   *float64  `json:"tp"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	OpenTime     time.Time `json:"open_time"`
}

// OrderInfo is one pending order as reported by the terminal.
type OrderInfo struct {
	Ticket     string    `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"` // BUY_LIMIT, SELL_STOP, ...
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	StopLoss   *float64  `json:"sl"`
	TakeProfit *float64  `json:"tp"`
	TimeSetup  time.Time `json:"time_setup"`
}

// Deal is a single entry from the terminal's deal history.
type Deal struct {
	Ticket     uint64    `json:"ticket"`
	Order      uint64    `json:"order"`
	Time       time.Time `json:"time"`
	TimeMsc    int64     `json:"time_msc"`
	Type       int       `json:"type"`
	Entry      int       `json:"entry"`
	Magic      int64     `json:"magic"`
	PositionID uint64    `json:"position_id"`
	Reason     int       `json:"reason"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Profit     float64   `json:"profit"`
	Fee        float64   `json:"fee"`
	Symbol     string    `json:"symbol"`
	Comment    string    `json:"comment"`
	ExternalID string    `json:"external_id"`
}

// HistoryOrder is a single entry from the terminal's order history.
type HistoryOrder struct {
	Ticket         uint64     `json:"ticket"`
	TimeSetup      time.Time  `json:"time_setup"`
	TimeDone       *time.Time `json:"time_done"`
	Type           int        `json:"type"`
	State          int        `json:"state"`
	PositionID     uint64     `json:"position_id"`
	VolumeInitial  float64    `json:"volume_initial"`
	VolumeCurrent  float64    `json:"volume_current"`
	PriceOpen      float64    `json:"price_open"`
	PriceCurrent   float64    `json:"price_current"`
	PriceStopLimit float64    `json:"price_stoplimit"`
	StopLoss       float64    `json:"sl"`
	TakeProfit     float64    `json:"tp"`
	Symbol         string     `json:"symbol"`
	Comment        string     `json:"comment"`
	ExternalID     string     `json:"external_id"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Time      time.Time `json:"time"`
	Timestamp int64     `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	Spread    int       `json:"spread"`
}

// SymbolInfo describes a tradable symbol known to the terminal.
type SymbolInfo struct {
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// Terminal is the raw single-session trading backend. Exactly one set of
// credentials is active at a time; logging in replaces whatever session came
// before. Implementations are not safe for concurrent use — serialization is
// the Gateway's job.
type Terminal interface {
	// InitializeAndLogin starts (or attaches to) the terminal and
	// authenticates in one step.
	InitializeAndLogin(login uint64, password, server string, timeout time.Duration) error

	// Initialize starts the terminal without authenticating.
	Initialize() error

	// Login authenticates against an already initialized terminal.
	Login(login uint64, password, server string, timeout time.Duration) error

	// Shutdown tears the terminal session down. Safe to call repeatedly.
	Shutdown()

	// AccountInfo returns the snapshot for the logged-in account, or nil
	// when no session is active.
	AccountInfo() (*AccountInfo, error)

	Positions() ([]PositionInfo, error)
	Orders() ([]OrderInfo, error)

	Deals(from, to time.Time) ([]Deal, error)
	HistoryOrders(from, to time.Time) ([]HistoryOrder, error)

	// CandlesRange returns bars for [from, to]; CandlesCount the most
	// recent count bars.
	CandlesRange(symbol, timeframe string, from, to time.Time) ([]Candle, error)
	CandlesCount(symbol, timeframe string, count int) ([]Candle, error)

	// SymbolInfo returns nil without error when the symbol is unknown.
	SymbolInfo(symbol string) (*SymbolInfo, error)
	SymbolSelect(symbol string) error
}
