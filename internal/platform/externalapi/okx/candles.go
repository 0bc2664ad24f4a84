package okx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
	"candle_tracker/internal/shared/ratelimiter"
)

// historyPageSize is the maximum limit accepted by history-candles.
const historyPageSize = 100

// ErrNoData is returned by Snapshot when OKX has no candle for the instrument.
var ErrNoData = errors.New("okx: no data")

// bars maps timeframes to OKX bar codes. Day and longer use the UTC-aligned bars.
var bars = map[timeframe.TimeFrame]string{
	timeframe.Minute:         "1m",
	timeframe.FiveMinutes:    "5m",
	timeframe.FifteenMinutes: "15m",
	timeframe.ThirtyMinutes:  "30m",
	timeframe.Hour:           "1H",
	timeframe.FourHours:      "4H",
	timeframe.Day:            "1Dutc",
	timeframe.Week:           "1Wutc",
	timeframe.Month:          "1Mutc",
}

// Market implements usecase.MarketRepository over the OKX REST API.
type Market struct {
	cfg     Config
	client  *http.Client
	limiter ratelimiter.RateLimiterInterface
	logger  *slog.Logger
}

var _ usecase.MarketRepository = (*Market)(nil)

// NewMarket creates a REST-only OKX market. limiter may be nil.
func NewMarket(cfg Config, client *http.Client, limiter ratelimiter.RateLimiterInterface, logger *slog.Logger) *Market {
	if logger == nil {
		logger = slog.Default()
	}
	return &Market{cfg: cfg.withDefaults(), client: client, limiter: limiter, logger: logger}
}

// FetchRange pages backwards through history-candles from to until from is reached.
// Only confirmed candles are returned, oldest first.
func (m *Market) FetchRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	bar, err := barFor(tf)
	if err != nil {
		return nil, err
	}

	var out []entity.Candle
	// after returns records strictly older than the given timestamp
	after := to.UnixMilli() + 1
	for {
		q := url.Values{}
		q.Set("instId", symbol)
		q.Set("bar", bar)
		q.Set("after", strconv.FormatInt(after, 10))
		q.Set("limit", strconv.Itoa(historyPageSize))

		rows, err := m.get(ctx, "/api/v5/market/history-candles", q)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		oldest := after
		for _, row := range rows {
			c, confirmed, err := parseRow(symbol, tf, row)
			if err != nil {
				return nil, err
			}
			oldest = min(oldest, c.Timestamp.UnixMilli())
			if !confirmed || c.Timestamp.Before(from) || c.Timestamp.After(to) {
				continue
			}
			out = append(out, c)
		}

		if oldest <= from.UnixMilli() || oldest >= after || len(rows) < historyPageSize {
			break
		}
		after = oldest
	}

	slices.SortFunc(out, func(a, b entity.Candle) int { return a.Timestamp.Compare(b.Timestamp) })
	return out, nil
}

// Snapshot returns the newest candle, which is usually the bucket still forming.
func (m *Market) Snapshot(ctx context.Context, symbol string, tf timeframe.TimeFrame, bucket time.Time) (entity.Candle, error) {
	bar, err := barFor(tf)
	if err != nil {
		return entity.Candle{}, err
	}

	q := url.Values{}
	q.Set("instId", symbol)
	q.Set("bar", bar)
	q.Set("limit", "1")

	rows, err := m.get(ctx, "/api/v5/market/candles", q)
	if err != nil {
		return entity.Candle{}, err
	}
	if len(rows) == 0 {
		return entity.Candle{}, fmt.Errorf("%w: %s %s at %s", ErrNoData, symbol, tf, bucket.Format(time.RFC3339))
	}
	c, _, err := parseRow(symbol, tf, rows[0])
	return c, err
}

// get calls a public market endpoint and returns its data rows.
func (m *Market) get(ctx context.Context, path string, q url.Values) ([][]string, error) {
	if m.limiter != nil {
		if err := m.limiter.WaitIfNeeded(ctx); err != nil {
			return nil, err
		}
	}

	u := strings.TrimRight(m.cfg.RESTURL, "/") + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			m.logger.Warn("failed to close response body", "error", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("okx http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var r struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data [][]string `json:"data"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	if r.Code != "0" {
		return nil, fmt.Errorf("okx candles error: code=%s msg=%s", r.Code, r.Msg)
	}
	return r.Data, nil
}

func barFor(tf timeframe.TimeFrame) (string, error) {
	bar, ok := bars[tf]
	if !ok {
		return "", fmt.Errorf("%w: %v", timeframe.ErrUnknownTimeFrame, tf)
	}
	return bar, nil
}

// parseRow converts an OKX data row [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm].
// Rows without a confirm column are treated as confirmed.
func parseRow(symbol string, tf timeframe.TimeFrame, row []string) (entity.Candle, bool, error) {
	if len(row) < 6 {
		return entity.Candle{}, false, fmt.Errorf("okx: short candle row %v", row)
	}

	tsMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return entity.Candle{}, false, fmt.Errorf("parse ts %q: %w", row[0], err)
	}

	var vals [5]float64
	for i := range vals {
		vals[i], err = strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return entity.Candle{}, false, fmt.Errorf("parse column %d %q: %w", i+1, row[i+1], err)
		}
	}

	confirmed := len(row) < 9 || row[8] == "1"
	ts := timeframe.BucketStart(time.UnixMilli(tsMs), tf)
	c, err := entity.NewCandle(symbol, ts, vals[0], vals[1], vals[2], vals[3], vals[4], tf)
	return c, confirmed, err
}
