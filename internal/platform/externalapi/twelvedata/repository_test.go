package twelvedata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// countingLimiter はWaitIfNeededの呼び出し回数を数えるテスト用リミッターです。
type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) WaitIfNeeded(ctx context.Context) error {
	l.calls.Add(1)
	return l.err
}

func newTestMarket(t *testing.T, handler http.HandlerFunc) (*TwelveDataMarket, *countingLimiter) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := &countingLimiter{}
	cfg := Config{APIKey: "test-key", BaseURL: server.URL}
	return NewTwelveDataMarket(cfg, server.Client(), limiter), limiter
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func TestTwelveDataMarket_FetchRange_Success(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 9, 2, 0, 0, time.UTC)

	market, limiter := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// Verify request parameters
		want := map[string]string{
			"symbol":     "BTC/USD",
			"interval":   "1min",
			"start_date": "2024-01-01 09:00:00",
			"end_date":   "2024-01-01 09:02:00",
			"timezone":   "UTC",
			"apikey":     "test-key",
			"order":      "ASC",
		}
		for k, v := range want {
			if got := q.Get(k); got != v {
				t.Errorf("expected %s=%q, got %q", k, v, got)
			}
		}

		// Out of order and one bar outside the range
		writeJSON(w, `{
			"status": "ok",
			"meta": {"symbol": "BTC/USD", "interval": "1min"},
			"values": [
				{"datetime": "2024-01-01 09:01:00", "open": "2", "high": "3", "low": "1.5", "close": "2.5", "volume": "10.5"},
				{"datetime": "2024-01-01 09:00:00", "open": "1", "high": "2", "low": "0.5", "close": "1.5", "volume": "12"},
				{"datetime": "2024-01-01 09:02:00", "open": "3", "high": "4", "low": "2.5", "close": "3.5"},
				{"datetime": "2024-01-01 09:03:00", "open": "4", "high": "5", "low": "3.5", "close": "4.5", "volume": "1"}
			]
		}`)
	})

	candles, err := market.FetchRange(context.Background(), "BTC/USD", timeframe.Minute, from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(candles))
	}
	for i, c := range candles {
		want := from.Add(time.Duration(i) * time.Minute)
		if !c.Timestamp.Equal(want) {
			t.Errorf("candle %d: expected timestamp %v, got %v", i, want, c.Timestamp)
		}
		if c.Symbol != "BTC/USD" || c.TimeFrame != timeframe.Minute {
			t.Errorf("candle %d: unexpected key %s", i, c.Key())
		}
	}
	if candles[1].Volume != 10.5 {
		t.Errorf("expected volume 10.5, got %f", candles[1].Volume)
	}
	if candles[2].Volume != 0 {
		t.Errorf("expected missing volume to be 0, got %f", candles[2].Volume)
	}
	if limiter.calls.Load() != 1 {
		t.Errorf("expected limiter to be called once, got %d", limiter.calls.Load())
	}
}

func TestTwelveDataMarket_FetchRange_AlignsToBucket(t *testing.T) {
	t.Parallel()

	market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "1week" {
			t.Errorf("expected interval 1week, got %s", r.URL.Query().Get("interval"))
		}
		// A date-only bar in the middle of the week
		writeJSON(w, `{"status": "ok", "values": [
			{"datetime": "2024-01-03", "open": "1", "high": "1", "low": "1", "close": "1", "volume": "1"}
		]}`)
	})

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles, err := market.FetchRange(context.Background(), "AAPL", timeframe.Week, from, from.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 1 || !candles[0].Timestamp.Equal(from) {
		t.Fatalf("expected one candle at the Monday bucket start, got %+v", candles)
	}
}

func TestTwelveDataMarket_FetchRange_NoData(t *testing.T) {
	t.Parallel()

	market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"code": 400, "message": "No data is available on the specified dates. Try setting different start/end dates.", "status": "error"}`)
	})

	from := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	candles, err := market.FetchRange(context.Background(), "AAPL", timeframe.Day, from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 0 {
		t.Errorf("expected 0 candles, got %d", len(candles))
	}
}

func TestTwelveDataMarket_Snapshot(t *testing.T) {
	t.Parallel()

	market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("outputsize") != "1" {
			t.Errorf("expected outputsize 1, got %s", r.URL.Query().Get("outputsize"))
		}
		writeJSON(w, `{"status": "ok", "values": [
			{"datetime": "2024-01-01 09:05:00", "open": "1", "high": "2", "low": "0.5", "close": "1.5", "volume": "3"}
		]}`)
	})

	bucket := time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC)
	c, err := market.Snapshot(context.Background(), "EUR/USD", timeframe.FiveMinutes, bucket)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.Timestamp.Equal(bucket) {
		t.Errorf("expected timestamp %v, got %v", bucket, c.Timestamp)
	}
	if c.Close != 1.5 {
		t.Errorf("expected close 1.5, got %f", c.Close)
	}
}

func TestTwelveDataMarket_Snapshot_Empty(t *testing.T) {
	t.Parallel()

	market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"status": "ok", "values": []}`)
	})

	_, err := market.Snapshot(context.Background(), "AAPL", timeframe.Day, time.Now())
	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestTwelveDataMarket_HTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
	}{
		{"bad request", http.StatusBadRequest},
		{"unauthorized", http.StatusUnauthorized},
		{"too many requests", http.StatusTooManyRequests},
		{"internal server error", http.StatusInternalServerError},
		{"service unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			})

			_, err := market.FetchRange(context.Background(), "AAPL", timeframe.Day, time.Now().Add(-time.Hour), time.Now())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), "twelvedata http") {
				t.Errorf("expected HTTP error message, got %v", err)
			}
		})
	}
}

func TestTwelveDataMarket_APIError(t *testing.T) {
	t.Parallel()

	market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"status": "error", "code": 401, "message": "Invalid API key"}`)
	})

	_, err := market.Snapshot(context.Background(), "AAPL", timeframe.Day, time.Now())
	if err == nil || !strings.Contains(err.Error(), "Invalid API key") {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestTwelveDataMarket_ParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		value    string
		errField string
	}{
		{"invalid datetime", `{"datetime": "bad", "open": "1", "high": "1", "low": "1", "close": "1"}`, "parse time"},
		{"invalid open", `{"datetime": "2024-01-01", "open": "x", "high": "1", "low": "1", "close": "1"}`, "parse open"},
		{"invalid high", `{"datetime": "2024-01-01", "open": "1", "high": "x", "low": "1", "close": "1"}`, "parse high"},
		{"invalid low", `{"datetime": "2024-01-01", "open": "1", "high": "1", "low": "x", "close": "1"}`, "parse low"},
		{"invalid close", `{"datetime": "2024-01-01", "open": "1", "high": "1", "low": "1", "close": "x"}`, "parse close"},
		{"invalid volume", `{"datetime": "2024-01-01", "open": "1", "high": "1", "low": "1", "close": "1", "volume": "x"}`, "parse volume"},
		{"high below low", `{"datetime": "2024-01-01", "open": "1", "high": "1", "low": "2", "close": "1"}`, "invalid candle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, `{"status": "ok", "values": [`+tt.value+`]}`)
			})

			_, err := market.Snapshot(context.Background(), "AAPL", timeframe.Day, time.Now())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errField) {
				t.Errorf("expected error containing %q, got %v", tt.errField, err)
			}
		})
	}
}

func TestTwelveDataMarket_LimiterError(t *testing.T) {
	t.Parallel()

	called := false
	market, limiter := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	limiter.err = context.Canceled

	_, err := market.Snapshot(context.Background(), "AAPL", timeframe.Day, time.Now())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("expected no request when the limiter fails")
	}
}

func TestTwelveDataMarket_ContextCancellation(t *testing.T) {
	t.Parallel()

	market, _ := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := market.FetchRange(ctx, "AAPL", timeframe.Day, time.Now().Add(-time.Hour), time.Now())
	if err == nil {
		t.Fatal("expected error due to context cancellation, got nil")
	}
}

func TestIntervals_CoverEveryTimeFrame(t *testing.T) {
	t.Parallel()

	for _, tf := range timeframe.All() {
		if _, ok := intervals[tf]; !ok {
			t.Errorf("missing interval for %s", tf)
		}
	}
}
