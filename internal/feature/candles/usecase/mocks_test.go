package usecase_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
)

// ErrDB はモックと期待値の間で共有されるセンチネルエラーです。
var ErrDB = errors.New("database error")

// ErrMarketAPI はフィードのモックが返すセンチネルエラーです。
var ErrMarketAPI = errors.New("market API error")

// mockMarketRepository は MarketRepository のモック実装です。呼び出し回数はゴルーチンから安全に読めます。
type mockMarketRepository struct {
	FetchRangeFunc func(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error)
	SnapshotFunc   func(ctx context.Context, symbol string, tf timeframe.TimeFrame, bucket time.Time) (entity.Candle, error)

	FetchRangeCalls atomic.Int32
	SnapshotCalls   atomic.Int32
}

func (m *mockMarketRepository) FetchRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	m.FetchRangeCalls.Add(1)
	if m.FetchRangeFunc != nil {
		return m.FetchRangeFunc(ctx, symbol, tf, from, to)
	}
	return nil, errors.New("FetchRangeFunc is not implemented")
}

func (m *mockMarketRepository) Snapshot(ctx context.Context, symbol string, tf timeframe.TimeFrame, bucket time.Time) (entity.Candle, error) {
	m.SnapshotCalls.Add(1)
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc(ctx, symbol, tf, bucket)
	}
	return entity.Candle{}, errors.New("SnapshotFunc is not implemented")
}

// mockStreamingMarket は CandleStreamer も実装するフィードのモックです。
type mockStreamingMarket struct {
	mockMarketRepository
	StreamFunc func(ctx context.Context, symbol string, tf timeframe.TimeFrame) (<-chan entity.Candle, <-chan error)
}

func (m *mockStreamingMarket) StreamCandles(ctx context.Context, symbol string, tf timeframe.TimeFrame) (<-chan entity.Candle, <-chan error) {
	return m.StreamFunc(ctx, symbol, tf)
}

// failingRepository は各メソッドで設定されたエラーを返す CandleRepository です。
type failingRepository struct {
	usecase.CandleRepository
	QueryErr  error
	CommitErr error
}

func (f *failingRepository) QueryRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return f.CandleRepository.QueryRange(ctx, symbol, tf, from, to)
}

func (f *failingRepository) NewWriter() usecase.CandleWriter {
	return &failingWriter{CandleWriter: f.CandleRepository.NewWriter(), err: f.CommitErr}
}

type failingWriter struct {
	usecase.CandleWriter
	err error
}

func (w *failingWriter) Commit(ctx context.Context) (bool, error) {
	if w.err != nil {
		return false, w.err
	}
	return w.CandleWriter.Commit(ctx)
}

// mockPublisher は CandlePublisher のモック実装です。
type mockPublisher struct {
	mu        sync.Mutex
	Err       error
	Published []entity.Candle
}

func (p *mockPublisher) PublishCandle(_ context.Context, c entity.Candle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Published = append(p.Published, c)
	return p.Err
}

func (p *mockPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published)
}

// recordingMetrics は Metrics の呼び出しを記録します。
type recordingMetrics struct {
	mu       sync.Mutex
	Backfill []bool
	Ingested []bool
	Failures int
	Active   int
}

func (r *recordingMetrics) ObserveBackfill(_ string, _ timeframe.TimeFrame, fetched bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Backfill = append(r.Backfill, fetched)
}

func (r *recordingMetrics) IncIngested(_ string, _ timeframe.TimeFrame, inserted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Ingested = append(r.Ingested, inserted)
}

func (r *recordingMetrics) IncSubscriptionFailure(string, timeframe.TimeFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures++
}

func (r *recordingMetrics) SetActiveSubscriptions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Active = n
}

func (r *recordingMetrics) snapshot() (failures, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Failures, r.Active
}

func mustCandle(t *testing.T, symbol string, ts time.Time, closePrice float64, tf timeframe.TimeFrame) entity.Candle {
	t.Helper()
	c, err := entity.NewCandle(symbol, ts, closePrice, closePrice+1, closePrice-1, closePrice, 1, tf)
	require.NoError(t, err)
	return c
}

// minuteSeries は start から n 本の1分足を返します。
func minuteSeries(t *testing.T, symbol string, start time.Time, n int) []entity.Candle {
	t.Helper()
	out := make([]entity.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mustCandle(t, symbol, start.Add(time.Duration(i)*time.Minute), float64(100+i), timeframe.Minute))
	}
	return out
}

func timestamps(cs []entity.Candle) []time.Time {
	out := make([]time.Time, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Timestamp)
	}
	return out
}

func ids(cs []entity.Candle) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}
