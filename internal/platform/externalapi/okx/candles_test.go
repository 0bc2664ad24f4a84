package okx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle_tracker/internal/feature/candles/domain/timeframe"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func row(ts time.Time, price float64, confirm string) []string {
	p := strconv.FormatFloat(price, 'f', -1, 64)
	return []string{strconv.FormatInt(ts.UnixMilli(), 10), p, p, p, p, "1.5", "0", "0", confirm}
}

func okxBody(rows [][]string) string {
	b := `{"code":"0","msg":"","data":[`
	for i, r := range rows {
		if i > 0 {
			b += ","
		}
		b += fmt.Sprintf(`["%s","%s","%s","%s","%s","%s","%s","%s","%s"]`, r[0], r[1], r[2], r[3], r[4], r[5], r[6], r[7], r[8])
	}
	return b + `]}`
}

func newTestMarket(t *testing.T, handler http.HandlerFunc) *Market {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewMarket(Config{RESTURL: server.URL}, server.Client(), nil, nil)
}

func TestMarket_FetchRange_Paginates(t *testing.T) {
	t.Parallel()

	// 250 one-minute candles ending at t0+249m, served newest first like OKX
	const total = 250
	var pages atomic.Int32

	m := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/history-candles", r.URL.Path)
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		assert.Equal(t, "1m", r.URL.Query().Get("bar"))
		pages.Add(1)

		after, err := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		require.NoError(t, err)

		var rows [][]string
		for i := total - 1; i >= 0 && len(rows) < historyPageSize; i-- {
			ts := t0.Add(time.Duration(i) * time.Minute)
			if ts.UnixMilli() < after {
				rows = append(rows, row(ts, float64(i), "1"))
			}
		}
		_, _ = w.Write([]byte(okxBody(rows)))
	})

	from := t0.Add(10 * time.Minute)
	to := t0.Add(219 * time.Minute)
	candles, err := m.FetchRange(context.Background(), "BTC-USDT", timeframe.Minute, from, to)
	require.NoError(t, err)

	require.Len(t, candles, 210)
	assert.True(t, candles[0].Timestamp.Equal(from))
	assert.True(t, candles[len(candles)-1].Timestamp.Equal(to))
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i-1].Timestamp.Before(candles[i].Timestamp))
	}
	assert.Equal(t, int32(3), pages.Load())
}

func TestMarket_FetchRange_SkipsUnconfirmed(t *testing.T) {
	t.Parallel()

	m := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okxBody([][]string{
			row(t0.Add(2*time.Minute), 3, "0"),
			row(t0.Add(time.Minute), 2, "1"),
			row(t0, 1, "1"),
		})))
	})

	candles, err := m.FetchRange(context.Background(), "BTC-USDT", timeframe.Minute, t0, t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 1.0, candles[0].Close)
	assert.Equal(t, 2.0, candles[1].Close)
}

func TestMarket_Snapshot(t *testing.T) {
	t.Parallel()

	m := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/candles", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "1Dutc", r.URL.Query().Get("bar"))
		_, _ = w.Write([]byte(okxBody([][]string{row(t0, 42, "0")})))
	})

	c, err := m.Snapshot(context.Background(), "ETH-USDT", timeframe.Day, t0)
	require.NoError(t, err)
	assert.Equal(t, 42.0, c.Close)
	assert.Equal(t, 1.5, c.Volume)
	// Day bars are aligned to the UTC bucket start
	assert.True(t, c.Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMarket_Snapshot_Empty(t *testing.T) {
	t.Parallel()

	m := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
	})

	_, err := m.Snapshot(context.Background(), "ETH-USDT", timeframe.Minute, t0)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestMarket_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"http error", http.StatusTooManyRequests, `{"msg":"Too Many Requests"}`, "okx http 429"},
		{"api error", http.StatusOK, `{"code":"51001","msg":"Instrument ID does not exist","data":[]}`, "code=51001"},
		{"bad json", http.StatusOK, `not json`, "invalid character"},
		{"short row", http.StatusOK, `{"code":"0","data":[["1","2"]]}`, "short candle row"},
		{"bad number", http.StatusOK, `{"code":"0","data":[["1704099600000","x","1","1","1","1"]]}`, "parse column 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := m.Snapshot(context.Background(), "BTC-USDT", timeframe.Minute, t0)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseRow(t *testing.T) {
	t.Parallel()

	c, confirmed, err := parseRow("BTC-USDT", timeframe.FiveMinutes, []string{"1704099780000", "1", "2", "0.5", "1.5", "10"})
	require.NoError(t, err)
	assert.True(t, confirmed, "rows without confirm column count as confirmed")
	assert.True(t, c.Timestamp.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, 10.0, c.Volume)

	_, confirmed, err = parseRow("BTC-USDT", timeframe.Minute, row(t0, 1, "0"))
	require.NoError(t, err)
	assert.False(t, confirmed)

	_, _, err = parseRow("BTC-USDT", timeframe.Minute, []string{"1704099600000", "1", "1", "2", "1", "1"})
	assert.Error(t, err, "high below low")
}

func TestBars_CoverEveryTimeFrame(t *testing.T) {
	t.Parallel()

	for _, tf := range timeframe.All() {
		_, err := barFor(tf)
		assert.NoError(t, err, tf.String())
	}
	_, err := barFor(timeframe.TimeFrame(-1))
	assert.ErrorIs(t, err, timeframe.ErrUnknownTimeFrame)
}
