package usecase

import (
	"context"
	"log/slog"
	"time"

	"candle_tracker/internal/feature/candles/domain/timeframe"
)

const (
	// DefaultLookbackBars は1回の取り込みで遡るローソク足の本数です。
	DefaultLookbackBars = 200
)

// DefaultIngestTimeFrames は取り込み対象が未指定の場合に使う時間足です。
var DefaultIngestTimeFrames = []timeframe.TimeFrame{timeframe.Day, timeframe.Week, timeframe.Month}

// IngestUsecase は設定された銘柄と時間足について直近の期間をまとめてバックフィルします。
type IngestUsecase struct {
	backfill *Backfiller
	logger   *slog.Logger
	now      func() time.Time
}

// NewIngestUsecase は新しい IngestUsecase を生成します。
func NewIngestUsecase(backfill *Backfiller, logger *slog.Logger) *IngestUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUsecase{backfill: backfill, logger: logger, now: time.Now}
}

// IngestResult は IngestAll の集計結果です。
type IngestResult struct {
	Succeeded int
	Failed    int
	Candles   int
}

// IngestAll は全銘柄 × 全時間足について、直近 bars 本分の期間を EnsureRange で補完します。
// 1つの組み合わせで失敗しても処理を止めずにログに出力し、次へ進みます。
// ctx がキャンセルされた場合のみエラーを返します。
func (iu *IngestUsecase) IngestAll(ctx context.Context, symbols []string, tfs []timeframe.TimeFrame, bars int) (IngestResult, error) {
	if len(tfs) == 0 {
		tfs = DefaultIngestTimeFrames
	}
	if bars <= 0 {
		bars = DefaultLookbackBars
	}

	var res IngestResult
	for _, s := range symbols {
		for _, tf := range tfs {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			from, to := lookbackWindow(iu.now(), tf, bars)
			cs, err := iu.backfill.EnsureRange(ctx, s, tf, from, to)
			if err != nil {
				iu.logger.Error("failed to ingest data", "symbol", s, "timeframe", tf, "error", err)
				res.Failed++
				continue // 次の時間足または銘柄へ
			}
			res.Succeeded++
			res.Candles += len(cs)
		}
	}
	return res, nil
}

// lookbackWindow は now を含むバケットから bars 本遡った期間を返します。
func lookbackWindow(now time.Time, tf timeframe.TimeFrame, bars int) (time.Time, time.Time) {
	to := timeframe.BucketStart(now, tf)
	from := timeframe.BucketStart(to.Add(-time.Duration(bars)*timeframe.IntervalDuration(tf)), tf)
	return from, to
}
