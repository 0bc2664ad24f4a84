package usecase

import (
	"context"
	"log/slog"
	"time"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// Backfiller は保存済みデータが不足している期間を外部フィードから補完します。
type Backfiller struct {
	candles CandleRepository
	market  MarketRepository
	metrics Metrics
	logger  *slog.Logger
}

// NewBackfiller は新しい Backfiller を生成します。metrics と logger は nil でも構いません。
func NewBackfiller(candles CandleRepository, market MarketRepository, metrics Metrics, logger *slog.Logger) *Backfiller {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{candles: candles, market: market, metrics: metrics, logger: logger}
}

// EnsureRange は [from, to] のローソク足を返します。
// 保存件数が 0 件、または期待件数より少ない場合は期間全体をフィードから再取得して保存し、
// 保存先から読み直した結果を返します。
// 期待件数は取引時間や休日を考慮しない概算のため、休場を含む期間では毎回再取得になり得ます。
// エラーはそのまま返し、リトライはしません。途中で失敗しても次回呼び出しで補完されます。
func (b *Backfiller) EnsureRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	started := time.Now()

	stored, err := b.candles.QueryRange(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, err
	}

	expected := timeframe.ExpectedCount(tf, from, to)
	if len(stored) > 0 && len(stored) >= expected {
		b.metrics.ObserveBackfill(symbol, tf, false, time.Since(started))
		return stored, nil
	}

	b.logger.Info("backfilling candles",
		"symbol", symbol, "timeframe", tf, "from", from, "to", to,
		"stored", len(stored), "expected", expected)

	fetched, err := b.market.FetchRange(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, err
	}

	w := b.candles.NewWriter()
	w.AddMany(fetched)
	if _, err := w.Commit(ctx); err != nil {
		return nil, err
	}

	out, err := b.candles.QueryRange(ctx, symbol, tf, from, to)
	if err != nil {
		return nil, err
	}
	b.metrics.ObserveBackfill(symbol, tf, true, time.Since(started))
	return out, nil
}
