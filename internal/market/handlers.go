package market

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/Mykey001/Mt5-brigde/internal/terminal"
	"github.com/Mykey001/Mt5-brigde/pkg/response"
)

// GinHandlers contains the HTTP handlers for market data endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CandlesHandler handles GET /market/candles.
func (h *GinHandlers) CandlesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Query("symbol")
		if symbol == "" {
			response.BadRequest(c, "symbol query parameter is required")
			return
		}

		q := CandleQuery{
			Symbol:    symbol,
			Timeframe: c.DefaultQuery("timeframe", defaultTimeframe),
		}
		if count, err := strconv.Atoi(c.DefaultQuery("count", "100")); err == nil {
			q.Count = count
		}

		var ok bool
		if q.Start, ok = parseTimeParam(c, "start_time"); !ok {
			return
		}
		if q.End, ok = parseTimeParam(c, "end_time"); !ok {
			return
		}

		resolved, candles, err := h.service.Candles(q)
		if err != nil {
			h.fail(c, err)
			return
		}

		response.Success(c, gin.H{
			"symbol":    resolved,
			"timeframe": normalizeTimeframe(q.Timeframe),
			"count":     len(candles),
			"candles":   candles,
		})
	}
}

// TradeCandlesHandler handles GET /market/trade-candles.
func (h *GinHandlers) TradeCandlesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Query("symbol")
		if symbol == "" {
			response.BadRequest(c, "symbol query parameter is required")
			return
		}

		entry, err := parseTime(c.Query("entry_time"))
		if err != nil {
			response.BadRequest(c, "invalid entry_time: "+err.Error())
			return
		}
		exit, err := parseTime(c.Query("exit_time"))
		if err != nil {
			response.BadRequest(c, "invalid exit_time: "+err.Error())
			return
		}

		before, _ := strconv.Atoi(c.DefaultQuery("before_candles", "50"))
		after, _ := strconv.Atoi(c.DefaultQuery("after_candles", "20"))

		resolved, candles, err := h.service.TradeContextCandles(
			symbol, entry, exit, c.DefaultQuery("timeframe", defaultTimeframe), before, after)
		if err != nil {
			h.fail(c, err)
			return
		}
		if len(candles) == 0 {
			response.NotFound(c, "No candle data found for "+symbol)
			return
		}

		response.Success(c, gin.H{
			"symbol":     resolved,
			"entry_time": entry,
			"exit_time":  exit,
			"count":      len(candles),
			"candles":    candles,
		})
	}
}

func (h *GinHandlers) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, terminal.ErrNotInitialized):
		response.ServiceUnavailable(c, "Terminal not connected")
	case errors.Is(err, ErrSymbolNotFound):
		response.NotFound(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := parseTime(raw)
	if err != nil {
		response.BadRequest(c, "invalid "+name+": "+err.Error())
		return nil, false
	}
	return &t, true
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", raw)
}
