package terminal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotInitialized is returned for reads before any session was ever
	// established.
	ErrNotInitialized = errors.New("terminal not initialized")
)

// ConnectError reports a failed login attempt with the broker-supplied
// detail. The detail always comes from the first connect phase, which is the
// more diagnostic of the two.
type ConnectError struct {
	Login  uint64
	Server string
	Detail string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("login %d on %s failed: %s", e.Login, e.Server, e.Detail)
}

// Gateway serializes access to the single-session Terminal. The backend
// supports exactly one authenticated session, so the gateway is a pool of
// one: connecting account B evicts account A. All authenticate-and-read
// sequences run under one mutex so that data read from the terminal can never
// be attributed to the wrong account.
type Gateway struct {
	mu       sync.Mutex
	term     Terminal
	launcher Launcher
	timeout  time.Duration

	initialized bool
	// activeAccount is advisory bookkeeping: the registry id of the account
	// whose login last succeeded. Zero means no session holder.
	activeAccount uint
}

// NewGateway wraps the terminal with single-slot session management. launcher
// may be nil when the terminal process is managed externally.
func NewGateway(term Terminal, launcher Launcher, timeout time.Duration) *Gateway {
	return &Gateway{
		term:     term,
		launcher: launcher,
		timeout:  timeout,
	}
}

// Session is scoped read access to the terminal while the gateway lock is
// held. It is only valid inside the callback it was handed to.
type Session struct {
	g *Gateway
}

func (s *Session) AccountInfo() (*AccountInfo, error) { return s.g.term.AccountInfo() }
func (s *Session) Positions() ([]PositionInfo, error) { return s.g.term.Positions() }
func (s *Session) Orders() ([]OrderInfo, error)       { return s.g.term.Orders() }

func (s *Session) Deals(from, to time.Time) ([]Deal, error) {
	return s.g.term.Deals(from, to)
}

func (s *Session) HistoryOrders(from, to time.Time) ([]HistoryOrder, error) {
	return s.g.term.HistoryOrders(from, to)
}

func (s *Session) CandlesRange(symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	return s.g.term.CandlesRange(symbol, timeframe, from, to)
}

func (s *Session) CandlesCount(symbol, timeframe string, count int) ([]Candle, error) {
	return s.g.term.CandlesCount(symbol, timeframe, count)
}

func (s *Session) SymbolInfo(symbol string) (*SymbolInfo, error) {
	return s.g.term.SymbolInfo(symbol)
}

func (s *Session) SymbolSelect(symbol string) error {
	return s.g.term.SymbolSelect(symbol)
}

// WithSession authenticates accountID's credentials and runs fn against the
// live session. The lock is held for the whole of connect+fn, which is the
// correctness guarantee callers rely on: nothing read inside fn can belong to
// another account. A connect failure returns *ConnectError and fn never runs;
// the slot is left unowned so stale reads are refused rather than served.
func (g *Gateway) WithSession(accountID uint, login uint64, password, server string, fn func(*Session) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureProcess(); err != nil {
		g.activeAccount = 0
		return err
	}

	if err := g.connectLocked(login, password, server); err != nil {
		g.activeAccount = 0
		return err
	}

	g.activeAccount = accountID
	log.Debug().
		Uint("account_id", accountID).
		Uint64("login", login).
		Str("server", server).
		Msg("terminal session established")

	return fn(&Session{g: g})
}

// WithActiveSession runs fn against whatever session currently holds the
// slot, without re-authenticating. Used for market data reads, which are not
// account-specific. Fails when no session was ever established.
func (g *Gateway) WithActiveSession(fn func(*Session) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized || g.activeAccount == 0 {
		return ErrNotInitialized
	}
	return fn(&Session{g: g})
}

// connectLocked runs the two-phase connect strategy. Phase one is the
// combined initialize+login call. If that fails the terminal is torn down,
// re-initialized bare, and login is attempted separately. When both phases
// fail the phase-one error is the one reported, since the separate login
// tends to mask the original cause.
func (g *Gateway) connectLocked(login uint64, password, server string) error {
	errPhase1 := g.term.InitializeAndLogin(login, password, server, g.timeout)
	if errPhase1 == nil {
		g.initialized = true
		return nil
	}

	log.Warn().
		Uint64("login", login).
		Str("server", server).
		Err(errPhase1).
		Msg("combined initialize+login failed, retrying with bare initialize")

	g.term.Shutdown()
	g.initialized = false

	if err := g.term.Initialize(); err != nil {
		return &ConnectError{Login: login, Server: server, Detail: errPhase1.Error()}
	}
	g.initialized = true

	if err := g.term.Login(login, password, server, g.timeout); err != nil {
		return &ConnectError{Login: login, Server: server, Detail: errPhase1.Error()}
	}
	return nil
}

func (g *Gateway) ensureProcess() error {
	if g.launcher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	if err := g.launcher.EnsureRunning(ctx); err != nil {
		return errors.Wrap(err, "terminal process not available")
	}
	return nil
}

// Disconnect drops accountID's claim on the session slot. The underlying
// terminal session is left alone; the next connect replaces it anyway.
func (g *Gateway) Disconnect(accountID uint) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.activeAccount == accountID {
		g.activeAccount = 0
		log.Info().Uint("account_id", accountID).Msg("account released terminal session")
	}
}

// IsConnected reports whether accountID is the current slot holder.
func (g *Gateway) IsConnected(accountID uint) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeAccount == accountID
}

// ActiveAccount returns the registry id of the current slot holder, zero when
// none.
func (g *Gateway) ActiveAccount() uint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeAccount
}

// Initialized reports whether the terminal has ever been brought up.
func (g *Gateway) Initialized() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initialized
}

// Shutdown tears down the terminal session at process stop.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initialized {
		g.term.Shutdown()
		g.initialized = false
	}
	g.activeAccount = 0
	log.Info().Msg("terminal gateway shut down")
}
