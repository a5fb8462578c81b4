package market

import (
	"errors"
	"testing"
	"time"

	"github.com/Mykey001/Mt5-brigde/internal/terminal"
	"github.com/Mykey001/Mt5-brigde/internal/terminal/terminaltest"
)

func newMarketEnv(t *testing.T) (*Service, *terminaltest.Fake, *terminal.Gateway) {
	t.Helper()

	fake := terminaltest.New()
	fake.AddAccount(&terminaltest.Account{
		Login:    12345,
		Password: "secret",
		Server:   "Test-Server",
		Info:     terminal.AccountInfo{Login: 12345, Balance: 1000},
	})

	gateway := terminal.NewGateway(fake, nil, time.Second)
	return NewService(gateway), fake, gateway
}

// connect opens a session so candle reads have an authenticated terminal.
func connect(t *testing.T, gateway *terminal.Gateway) {
	t.Helper()
	err := gateway.WithSession(1, 12345, "secret", "Test-Server", func(*terminal.Session) error {
		return nil
	})
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
}

func bars(n int, start time.Time, step time.Duration) []terminal.Candle {
	out := make([]terminal.Candle, n)
	for i := range out {
		ts := start.Add(time.Duration(i) * step)
		out[i] = terminal.Candle{
			Time:      ts,
			Timestamp: ts.Unix(),
			Open:      1.0,
			High:      1.1,
			Low:       0.9,
			Close:     1.05,
			Volume:    100,
		}
	}
	return out
}

func TestCandlesByCount(t *testing.T) {
	service, fake, gateway := newMarketEnv(t)
	fake.SetCandles("EURUSD", bars(200, time.Now().Add(-200*time.Minute), time.Minute))
	connect(t, gateway)

	resolved, candles, err := service.Candles(CandleQuery{Symbol: "EURUSD", Timeframe: "M1", Count: 50})
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if resolved != "EURUSD" {
		t.Errorf("resolved = %q", resolved)
	}
	if len(candles) != 50 {
		t.Errorf("got %d candles, want 50", len(candles))
	}
}

func TestCandlesSuffixFallback(t *testing.T) {
	service, fake, gateway := newMarketEnv(t)
	// The broker only knows the suffixed spelling.
	fake.SetCandles("XAUUSD.m", bars(10, time.Now().Add(-10*time.Minute), time.Minute))
	connect(t, gateway)

	resolved, candles, err := service.Candles(CandleQuery{Symbol: "XAUUSD", Timeframe: "M15"})
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if resolved != "XAUUSD.m" {
		t.Errorf("resolved = %q, want XAUUSD.m", resolved)
	}
	if len(candles) != 10 {
		t.Errorf("got %d candles, want 10", len(candles))
	}
}

func TestCandlesSelectsHiddenSymbol(t *testing.T) {
	service, fake, gateway := newMarketEnv(t)
	fake.AddSymbol("GBPUSD", false)
	connect(t, gateway)

	resolved, _, err := service.Candles(CandleQuery{Symbol: "GBPUSD"})
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if resolved != "GBPUSD" {
		t.Errorf("resolved = %q", resolved)
	}
}

func TestCandlesUnknownSymbol(t *testing.T) {
	service, _, gateway := newMarketEnv(t)
	connect(t, gateway)

	_, _, err := service.Candles(CandleQuery{Symbol: "NOSUCH"})
	if !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("err = %v, want ErrSymbolNotFound", err)
	}
}

func TestCandlesRequireActiveSession(t *testing.T) {
	service, fake, _ := newMarketEnv(t)
	fake.SetCandles("EURUSD", bars(5, time.Now(), time.Minute))

	_, _, err := service.Candles(CandleQuery{Symbol: "EURUSD"})
	if !errors.Is(err, terminal.ErrNotInitialized) {
		t.Fatalf("err = %v, want ErrNotInitialized", err)
	}
}

func TestCandlesByRange(t *testing.T) {
	service, fake, gateway := newMarketEnv(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake.SetCandles("EURUSD", bars(60, base, time.Minute))
	connect(t, gateway)

	start := base.Add(10 * time.Minute)
	end := base.Add(19 * time.Minute)
	_, candles, err := service.Candles(CandleQuery{Symbol: "EURUSD", Timeframe: "M1", Start: &start, End: &end})
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 10 {
		t.Errorf("got %d candles in range, want 10", len(candles))
	}
}

func TestTradeContextWidensWindow(t *testing.T) {
	service, fake, gateway := newMarketEnv(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	fake.SetCandles("EURUSD", bars(300, base, time.Minute))
	connect(t, gateway)

	entry := base.Add(100 * time.Minute)
	exit := base.Add(110 * time.Minute)
	_, candles, err := service.TradeContextCandles("EURUSD", entry, exit, "M1", 50, 20)
	if err != nil {
		t.Fatalf("TradeContextCandles: %v", err)
	}
	// 50 bars of lead-in, the 11-bar trade, 20 bars of follow-through.
	if len(candles) != 81 {
		t.Errorf("got %d candles, want 81", len(candles))
	}
}

func TestNormalizeTimeframe(t *testing.T) {
	cases := map[string]string{
		"M1":    "M1",
		"h4":    "H4",
		"d1":    "D1",
		"bogus": "M15",
		"":      "M15",
	}
	for in, want := range cases {
		if got := normalizeTimeframe(in); got != want {
			t.Errorf("normalizeTimeframe(%q) = %q, want %q", in, got, want)
		}
	}
}
