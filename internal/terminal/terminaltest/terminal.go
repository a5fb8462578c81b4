// Package terminaltest provides a scripted in-memory Terminal for tests.
package terminaltest

import (
	"errors"
	"sync"
	"time"

	"github.com/Mykey001/Mt5-brigde/internal/terminal"
)

// Compile-time interface check.
var _ terminal.Terminal = (*Fake)(nil)

// Account scripts one login the fake will accept, together with the state it
// reports once that login is active.
type Account struct {
	Login    uint64
	Password string
	Server   string

	Info          terminal.AccountInfo
	Positions     []terminal.PositionInfo
	Orders        []terminal.OrderInfo
	Deals         []terminal.Deal
	HistoryOrders []terminal.HistoryOrder
}

// Fake implements terminal.Terminal against scripted accounts, tracking which
// login currently holds the single session.
type Fake struct {
	mu       sync.Mutex
	accounts map[uint64]*Account
	candles  map[string][]terminal.Candle
	symbols  map[string]bool // symbol -> visible

	initialized bool
	activeLogin uint64

	// FailCombined makes the one-step initialize+login call fail so the
	// two-phase retry path gets exercised.
	FailCombined bool
	// InitErr, when set, fails bare Initialize calls.
	InitErr error

	combinedCalls int
	loginCalls    int
}

// New returns an empty fake; script it with AddAccount and SetCandles.
func New() *Fake {
	return &Fake{
		accounts: make(map[uint64]*Account),
		candles:  make(map[string][]terminal.Candle),
		symbols:  make(map[string]bool),
	}
}

// AddAccount registers credentials the fake will accept.
func (f *Fake) AddAccount(a *Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.Login] = a
}

// SetCandles scripts bars for a symbol and marks it visible.
func (f *Fake) SetCandles(symbol string, candles []terminal.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[symbol] = candles
	f.symbols[symbol] = true
}

// AddSymbol registers a symbol without bars.
func (f *Fake) AddSymbol(symbol string, visible bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols[symbol] = visible
}

// ActiveLogin reports which scripted login currently holds the session.
func (f *Fake) ActiveLogin() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeLogin
}

// CombinedCalls counts InitializeAndLogin attempts.
func (f *Fake) CombinedCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.combinedCalls
}

// LoginCalls counts separate Login attempts.
func (f *Fake) LoginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls
}

func (f *Fake) InitializeAndLogin(login uint64, password, server string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.combinedCalls++
	if f.FailCombined {
		return errors.New("IPC initialize failed")
	}
	f.initialized = true
	return f.authenticate(login, password, server)
}

func (f *Fake) Initialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InitErr != nil {
		return f.InitErr
	}
	f.initialized = true
	return nil
}

func (f *Fake) Login(login uint64, password, server string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if !f.initialized {
		return errors.New("terminal not initialized")
	}
	return f.authenticate(login, password, server)
}

// authenticate must be called with the lock held.
func (f *Fake) authenticate(login uint64, password, server string) error {
	acct, ok := f.accounts[login]
	if !ok || acct.Password != password || acct.Server != server {
		f.activeLogin = 0
		return errors.New("authorization failed (invalid account)")
	}
	f.activeLogin = login
	return nil
}

func (f *Fake) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initialized = false
	f.activeLogin = 0
}

// active must be called with the lock held.
func (f *Fake) active() (*Account, error) {
	if f.activeLogin == 0 {
		return nil, errors.New("no active session")
	}
	return f.accounts[f.activeLogin], nil
}

func (f *Fake) AccountInfo() (*terminal.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, err := f.active()
	if err != nil {
		return nil, err
	}
	info := acct.Info
	return &info, nil
}

func (f *Fake) Positions() ([]terminal.PositionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, err := f.active()
	if err != nil {
		return nil, err
	}
	return append([]terminal.PositionInfo(nil), acct.Positions...), nil
}

func (f *Fake) Orders() ([]terminal.OrderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, err := f.active()
	if err != nil {
		return nil, err
	}
	return append([]terminal.OrderInfo(nil), acct.Orders...), nil
}

func (f *Fake) Deals(from, to time.Time) ([]terminal.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, err := f.active()
	if err != nil {
		return nil, err
	}
	var out []terminal.Deal
	for _, d := range acct.Deals {
		if !d.Time.Before(from) && !d.Time.After(to) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *Fake) HistoryOrders(from, to time.Time) ([]terminal.HistoryOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, err := f.active()
	if err != nil {
		return nil, err
	}
	var out []terminal.HistoryOrder
	for _, o := range acct.HistoryOrders {
		if !o.TimeSetup.Before(from) && !o.TimeSetup.After(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *Fake) CandlesRange(symbol, _ string, from, to time.Time) ([]terminal.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []terminal.Candle
	for _, c := range f.candles[symbol] {
		if !c.Time.Before(from) && !c.Time.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) CandlesCount(symbol, _ string, count int) ([]terminal.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bars := f.candles[symbol]
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return append([]terminal.Candle(nil), bars...), nil
}

func (f *Fake) SymbolInfo(symbol string) (*terminal.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	visible, ok := f.symbols[symbol]
	if !ok {
		return nil, nil
	}
	return &terminal.SymbolInfo{Name: symbol, Visible: visible}, nil
}

func (f *Fake) SymbolSelect(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.symbols[symbol]; !ok {
		return errors.New("unknown symbol")
	}
	f.symbols[symbol] = true
	return nil
}
