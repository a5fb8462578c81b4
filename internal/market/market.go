package market

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Mykey001/Mt5-brigde/internal/terminal"
)

var ErrSymbolNotFound = errors.New("symbol not found")

// timeframes maps the supported timeframe names to their bar length in
// minutes, used to widen time ranges by a candle count.
var timeframes = map[string]int{
	"M1": 1, "M5": 5, "M15": 15, "M30": 30,
	"H1": 60, "H4": 240, "D1": 1440, "W1": 10080, "MN1": 43200,
}

// symbolSuffixes are tried in order when a bare symbol is unknown; brokers
// commonly publish EURUSD as EURUSD.m, EURUSDm and similar.
var symbolSuffixes = []string{".m", ".std", "", "m", "pro"}

const defaultTimeframe = "M15"

// Service reads OHLCV data through the terminal gateway. Candle reads use
// whichever account currently holds the session; market data is not
// account-scoped.
type Service struct {
	gateway *terminal.Gateway
}

func NewService(gateway *terminal.Gateway) *Service {
	return &Service{gateway: gateway}
}

// CandleQuery selects bars either by [Start, End] range or by the most
// recent Count when no range is given.
type CandleQuery struct {
	Symbol    string
	Timeframe string
	Start     *time.Time
	End       *time.Time
	Count     int
}

// Candles resolves the symbol (with suffix fallback) and fetches bars. The
// resolved symbol name is returned so clients see which variant matched.
func (s *Service) Candles(q CandleQuery) (string, []terminal.Candle, error) {
	tf := normalizeTimeframe(q.Timeframe)
	count := q.Count
	if count <= 0 {
		count = 100
	}

	var resolved string
	var candles []terminal.Candle

	err := s.gateway.WithActiveSession(func(sess *terminal.Session) error {
		var err error
		resolved, err = resolveSymbol(sess, q.Symbol)
		if err != nil {
			return err
		}

		switch {
		case q.Start != nil && q.End != nil:
			candles, err = sess.CandlesRange(resolved, tf, *q.Start, *q.End)
		case q.Start != nil:
			candles, err = sess.CandlesRange(resolved, tf, *q.Start, time.Now())
		default:
			candles, err = sess.CandlesCount(resolved, tf, count)
		}
		return err
	})
	if err != nil {
		return "", nil, err
	}

	log.Debug().Str("symbol", resolved).Str("timeframe", tf).
		Int("count", len(candles)).Msg("candles fetched")
	return resolved, candles, nil
}

// TradeContextCandles widens the [entry, exit] window by a number of bars on
// each side so a trade can be charted with surrounding price action.
func (s *Service) TradeContextCandles(symbol string, entry, exit time.Time, timeframe string, beforeCandles, afterCandles int) (string, []terminal.Candle, error) {
	tf := normalizeTimeframe(timeframe)
	minutes := timeframes[tf]

	if beforeCandles <= 0 {
		beforeCandles = 50
	}
	if afterCandles <= 0 {
		afterCandles = 20
	}

	start := entry.Add(-time.Duration(minutes*beforeCandles) * time.Minute)
	end := exit.Add(time.Duration(minutes*afterCandles) * time.Minute)

	return s.Candles(CandleQuery{
		Symbol:    symbol,
		Timeframe: tf,
		Start:     &start,
		End:       &end,
	})
}

// resolveSymbol finds the broker's spelling of the symbol, trying the bare
// name first and then the common suffixes, and makes sure it is selected in
// the market watch so rates are available.
func resolveSymbol(sess *terminal.Session, symbol string) (string, error) {
	info, err := sess.SymbolInfo(symbol)
	if err != nil {
		return "", err
	}

	name := symbol
	if info == nil {
		for _, suffix := range symbolSuffixes {
			candidate := symbol + suffix
			info, err = sess.SymbolInfo(candidate)
			if err != nil {
				return "", err
			}
			if info != nil {
				name = candidate
				log.Debug().Str("symbol", candidate).Msg("symbol matched with broker suffix")
				break
			}
		}
	}
	if info == nil {
		return "", errors.Wrap(ErrSymbolNotFound, symbol)
	}

	if !info.Visible {
		if err := sess.SymbolSelect(name); err != nil {
			return "", errors.Wrapf(err, "selecting symbol %s", name)
		}
	}
	return name, nil
}

func normalizeTimeframe(tf string) string {
	tf = strings.ToUpper(tf)
	if _, ok := timeframes[tf]; ok {
		return tf
	}
	return defaultTimeframe
}
