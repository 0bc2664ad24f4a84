package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle_tracker/internal/feature/candles/domain/timeframe"
)

func TestMarket_FetchRange(t *testing.T) {
	t.Parallel()

	m := NewMarket(Config{Seed: 7, StartPrice: 100, Volatility: 0.02})
	from := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 9, 3, 0, 0, time.UTC)

	candles, err := m.FetchRange(context.Background(), "BTC", timeframe.Minute, from, to.Add(-time.Nanosecond))
	require.NoError(t, err)
	require.Len(t, candles, 3)

	for i, c := range candles {
		assert.True(t, c.Timestamp.Equal(from.Add(time.Duration(i)*time.Minute)))
		assert.Equal(t, "BTC", c.Symbol)
		assert.GreaterOrEqual(t, c.High, max(c.Open, c.Close))
		assert.LessOrEqual(t, c.Low, min(c.Open, c.Close))
		assert.Positive(t, c.Volume)
		if i > 0 {
			assert.Equal(t, candles[i-1].Close, c.Open, "walk continues from previous close")
		}
	}
	assert.Equal(t, 100.0, candles[0].Open)
}

func TestMarket_FetchRange_Deterministic(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 30)

	a, err := NewMarket(Config{Seed: 1}).FetchRange(context.Background(), "ETH", timeframe.Day, from, to)
	require.NoError(t, err)
	b, err := NewMarket(Config{Seed: 1}).FetchRange(context.Background(), "ETH", timeframe.Day, from, to)
	require.NoError(t, err)
	c, err := NewMarket(Config{Seed: 2}).FetchRange(context.Background(), "ETH", timeframe.Day, from, to)
	require.NoError(t, err)

	require.Len(t, a, 31)
	for i := range a {
		assert.Equal(t, a[i].Close, b[i].Close)
	}
	assert.NotEqual(t, a[len(a)-1].Close, c[len(c)-1].Close)
}

func TestMarket_FetchRange_SkipsPartialFirstBucket(t *testing.T) {
	t.Parallel()

	m := NewMarket(Config{})
	from := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	candles, err := m.FetchRange(context.Background(), "AAPL", timeframe.Month, from, to)
	require.NoError(t, err)
	require.Len(t, candles, 3)
	assert.True(t, candles[0].Timestamp.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, candles[2].Timestamp.Equal(to))
}

func TestMarket_FetchRange_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMarket(Config{}).FetchRange(ctx, "BTC", timeframe.Minute, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMarket_Snapshot(t *testing.T) {
	t.Parallel()

	m := NewMarket(Config{Seed: 3})
	now := time.Date(2024, 1, 1, 9, 7, 42, 0, time.UTC)

	a, err := m.Snapshot(context.Background(), "BTC", timeframe.FiveMinutes, now)
	require.NoError(t, err)
	b, err := m.Snapshot(context.Background(), "BTC", timeframe.FiveMinutes, now)
	require.NoError(t, err)

	assert.True(t, a.Timestamp.Equal(time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC)))
	assert.Equal(t, a.Close, b.Close)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = m.Snapshot(context.Background(), "BTC", timeframe.TimeFrame(42), now)
	assert.ErrorIs(t, err, timeframe.ErrUnknownTimeFrame)
}
