package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// Following Go convention: interfaces are defined by the consumer (usecase), not the provider (adapters).

// CandleRepository はローソク足の永続化レイヤーを抽象化します。
type CandleRepository interface {
	// QueryRange は [from, to] に含まれるローソク足をタイムスタンプ昇順で返します。
	QueryRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error)
	// GetLatest は最新のローソク足を返します。存在しない場合は ErrCandleNotFound を返します。
	GetLatest(ctx context.Context, symbol string, tf timeframe.TimeFrame) (entity.Candle, error)
	// GetByID はIDでローソク足を取得します。存在しない場合は ErrCandleNotFound を返します。
	GetByID(ctx context.Context, id uuid.UUID) (entity.Candle, error)
	// NewWriter は書き込み単位ごとのステージング領域を返します。
	NewWriter() CandleWriter
}

// CandleWriter はローソク足をステージングし、Commit でまとめて保存します。
// 論理キー (symbol, timeframe, timestamp) が既に存在する要素は黙ってスキップされます（先勝ち）。
// Writer はゴルーチン間で共有しないでください。
type CandleWriter interface {
	AddOne(c entity.Candle)
	AddMany(cs []entity.Candle)
	// Commit はステージングされた要素を保存し、1件以上が新規に挿入されたかを返します。
	// 成功・失敗に関わらずステージング領域は空になります。
	Commit(ctx context.Context) (bool, error)
}

// MarketRepository は外部のマーケットデータ提供元を抽象化します。
type MarketRepository interface {
	// FetchRange は [from, to] の確定済みローソク足を取得します。
	FetchRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error)
	// Snapshot は bucket から始まる（形成中の）ローソク足を1本返します。
	Snapshot(ctx context.Context, symbol string, tf timeframe.TimeFrame, bucket time.Time) (entity.Candle, error)
}

// CandleStreamer はプッシュ型のフィードが追加で実装するインターフェースです。
// 実装している場合、購読タスクはポーリングの代わりにストリームを消費します。
// 両チャネルは ctx の終了後に閉じられます。
type CandleStreamer interface {
	StreamCandles(ctx context.Context, symbol string, tf timeframe.TimeFrame) (<-chan entity.Candle, <-chan error)
}

// CandlePublisher は新規に保存されたローソク足を下流へ通知します。
type CandlePublisher interface {
	PublishCandle(ctx context.Context, c entity.Candle) error
}

// Metrics はユースケースが記録する計測値です。
type Metrics interface {
	ObserveBackfill(symbol string, tf timeframe.TimeFrame, fetched bool, d time.Duration)
	IncIngested(symbol string, tf timeframe.TimeFrame, inserted bool)
	IncSubscriptionFailure(symbol string, tf timeframe.TimeFrame)
	SetActiveSubscriptions(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveBackfill(string, timeframe.TimeFrame, bool, time.Duration) {}
func (nopMetrics) IncIngested(string, timeframe.TimeFrame, bool)                   {}
func (nopMetrics) IncSubscriptionFailure(string, timeframe.TimeFrame)              {}
func (nopMetrics) SetActiveSubscriptions(int)                                      {}
