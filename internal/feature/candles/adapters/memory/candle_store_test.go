package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
)

var base = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func mustCandle(t *testing.T, symbol string, ts time.Time, closePrice float64, tf timeframe.TimeFrame) entity.Candle {
	t.Helper()
	c, err := entity.NewCandle(symbol, ts, closePrice, closePrice+1, closePrice-1, closePrice, 10, tf)
	require.NoError(t, err)
	return c
}

func TestCandleStore_FirstWriteWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewCandleStore()

	first := mustCandle(t, "BTC", base, 100, timeframe.Minute)
	second := mustCandle(t, "BTC", base, 999, timeframe.Minute)

	w := s.NewWriter()
	w.AddOne(first)
	inserted, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, inserted)

	w.AddOne(second)
	inserted, err = w.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate key is skipped")

	got, err := s.QueryRange(ctx, "BTC", timeframe.Minute, base, base)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 100.0, got[0].Close)
	assert.Equal(t, first.ID, got[0].ID)
}

func TestCandleStore_DuplicatesInsideBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewCandleStore()

	w := s.NewWriter()
	w.AddMany([]entity.Candle{
		mustCandle(t, "ETH", base, 1, timeframe.Hour),
		mustCandle(t, "ETH", base, 2, timeframe.Hour),
		mustCandle(t, "ETH", base.Add(time.Hour), 3, timeframe.Hour),
	})
	inserted, err := w.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 2, s.Len())

	got, err := s.QueryRange(ctx, "ETH", timeframe.Hour, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].Close)
	assert.Equal(t, 3.0, got[1].Close)
}

func TestCandleStore_QueryRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewCandleStore()

	w := s.NewWriter()
	// Insert out of order to check sorting.
	for _, i := range []int{3, 0, 2, 1, 4} {
		w.AddOne(mustCandle(t, "BTC", base.Add(time.Duration(i)*time.Minute), float64(i+1), timeframe.Minute))
	}
	w.AddOne(mustCandle(t, "BTC", base, 50, timeframe.FiveMinutes))
	w.AddOne(mustCandle(t, "ETH", base, 50, timeframe.Minute))
	_, err := w.Commit(ctx)
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to time.Time
		want     []float64
	}{
		{"inclusive bounds", base.Add(time.Minute), base.Add(3 * time.Minute), []float64{2, 3, 4}},
		{"whole range", base, base.Add(4 * time.Minute), []float64{1, 2, 3, 4, 5}},
		{"single point", base.Add(2 * time.Minute), base.Add(2 * time.Minute), []float64{3}},
		{"empty", base.Add(time.Hour), base.Add(2 * time.Hour), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryRange(ctx, "BTC", timeframe.Minute, tt.from, tt.to)
			require.NoError(t, err)
			var closes []float64
			for _, c := range got {
				closes = append(closes, c.Close)
			}
			assert.Equal(t, tt.want, closes)
		})
	}
}

func TestCandleStore_GetLatestAndByID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewCandleStore()

	_, err := s.GetLatest(ctx, "BTC", timeframe.Minute)
	assert.ErrorIs(t, err, usecase.ErrCandleNotFound)

	older := mustCandle(t, "BTC", base, 1, timeframe.Minute)
	newer := mustCandle(t, "BTC", base.Add(time.Minute), 2, timeframe.Minute)
	w := s.NewWriter()
	w.AddMany([]entity.Candle{newer, older})
	_, err = w.Commit(ctx)
	require.NoError(t, err)

	latest, err := s.GetLatest(ctx, "BTC", timeframe.Minute)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)

	byID, err := s.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, older, byID)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, usecase.ErrCandleNotFound)
}

func TestCandleStore_CommitClearsStaging(t *testing.T) {
	t.Parallel()
	s := NewCandleStore()

	w := s.NewWriter()
	w.AddOne(mustCandle(t, "BTC", base, 1, timeframe.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Commit(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	inserted, err := w.Commit(context.Background())
	require.NoError(t, err)
	assert.False(t, inserted, "staging is emptied by a failed commit")
	assert.Zero(t, s.Len())
}

func TestCandleStore_ConcurrentWriters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewCandleStore()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := s.NewWriter()
			w.AddOne(mustCandle(t, "BTC", base, float64(i), timeframe.Minute))
			ok, err := w.Commit(ctx)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, inserted, "exactly one writer wins the key")
	assert.Equal(t, 1, s.Len())
}
