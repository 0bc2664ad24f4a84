// Package usecase はローソク足の追跡・バックフィルのビジネスロジックを実装します。
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// DefaultMaxBars は GetHistoricalCandles が1回の呼び出しで扱う本数の上限です。
const DefaultMaxBars = 5000

// TrackingUsecase は履歴取得、ライブ追跡、取り込みをまとめたファサードです。
type TrackingUsecase struct {
	maxBars   int
	candles   CandleRepository
	backfill  *Backfiller
	subs      *SubscriptionManager
	publisher CandlePublisher
	metrics   Metrics
	logger    *slog.Logger
}

type trackingOptions struct {
	maxBars     int
	publisher   CandlePublisher
	metrics     Metrics
	logger      *slog.Logger
	managerOpts []ManagerOption
}

// Option は TrackingUsecase の設定を変更します。
type Option func(*trackingOptions)

// WithPublisher は新規保存されたローソク足の通知先を設定します。
func WithPublisher(p CandlePublisher) Option {
	return func(o *trackingOptions) { o.publisher = p }
}

// WithMetrics は計測先を設定します。
func WithMetrics(m Metrics) Option {
	return func(o *trackingOptions) { o.metrics = m }
}

// WithMaxBars は GetHistoricalCandles で要求できる本数の上限を設定します。0 以下の値は無視されます。
func WithMaxBars(n int) Option {
	return func(o *trackingOptions) {
		if n > 0 {
			o.maxBars = n
		}
	}
}

// WithLogger はロガーを設定します。
func WithLogger(l *slog.Logger) Option {
	return func(o *trackingOptions) { o.logger = l }
}

// WithSubscriptionOptions は内部の SubscriptionManager に渡すオプションを追加します。
func WithSubscriptionOptions(opts ...ManagerOption) Option {
	return func(o *trackingOptions) { o.managerOpts = append(o.managerOpts, opts...) }
}

// NewTrackingUsecase は新しい TrackingUsecase を生成します。
func NewTrackingUsecase(candles CandleRepository, market MarketRepository, opts ...Option) *TrackingUsecase {
	o := trackingOptions{maxBars: DefaultMaxBars, metrics: nopMetrics{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = nopMetrics{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	t := &TrackingUsecase{
		maxBars:   o.maxBars,
		candles:   candles,
		backfill:  NewBackfiller(candles, market, o.metrics, o.logger),
		publisher: o.publisher,
		metrics:   o.metrics,
		logger:    o.logger,
	}
	base := []ManagerOption{WithManagerLogger(o.logger), WithManagerMetrics(o.metrics)}
	t.subs = NewSubscriptionManager(market, t.IngestNewCandle, append(base, o.managerOpts...)...)
	return t
}

// GetHistoricalCandles は [from, to] のローソク足を昇順で返します。
// 保存済みデータが不足していればフィードから補完します。
// 期間の本数が上限を超える場合はフィードにも保存先にもアクセスせず ErrInvalidRange を返します。
func (t *TrackingUsecase) GetHistoricalCandles(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	if err := validateSeries(symbol, tf); err != nil {
		return nil, err
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from must not be after to", ErrInvalidRange)
	}
	if n := timeframe.ExpectedCount(tf, from, to); n > t.maxBars {
		return nil, fmt.Errorf("%w: %d bars requested, limit is %d", ErrInvalidRange, n, t.maxBars)
	}
	return t.backfill.EnsureRange(ctx, symbol, tf, from, to)
}

// StartTracking はライブ追跡を開始します。既に追跡中であれば何もしません。
func (t *TrackingUsecase) StartTracking(symbol string, tf timeframe.TimeFrame) error {
	return t.subs.Start(symbol, tf)
}

// StopTracking はライブ追跡を停止します。追跡していない場合は何もしません。
func (t *TrackingUsecase) StopTracking(symbol string, tf timeframe.TimeFrame) {
	t.subs.Stop(symbol, tf)
}

// ActiveTracking は追跡中の (銘柄, 時間足) を返します。
func (t *TrackingUsecase) ActiveTracking() []SubscriptionKey {
	return t.subs.Active()
}

// IngestNewCandle はローソク足を1件保存し、新規に挿入されたかを返します。
// 同じ論理キーが既にある場合は false を返し、エラーにはしません。
func (t *TrackingUsecase) IngestNewCandle(ctx context.Context, c entity.Candle) (bool, error) {
	w := t.candles.NewWriter()
	w.AddOne(c)
	inserted, err := w.Commit(ctx)
	if err != nil {
		return false, err
	}
	t.metrics.IncIngested(c.Symbol, c.TimeFrame, inserted)

	if inserted && t.publisher != nil {
		if err := t.publisher.PublishCandle(ctx, c); err != nil {
			// 通知の失敗は保存結果に影響させない
			t.logger.Warn("failed to publish candle", "symbol", c.Symbol, "timeframe", c.TimeFrame, "timestamp", c.Timestamp, "error", err)
		}
	}
	return inserted, nil
}

// GetLatestCandle は最新のローソク足を返します。
func (t *TrackingUsecase) GetLatestCandle(ctx context.Context, symbol string, tf timeframe.TimeFrame) (entity.Candle, error) {
	if err := validateSeries(symbol, tf); err != nil {
		return entity.Candle{}, err
	}
	return t.candles.GetLatest(ctx, symbol, tf)
}

// GetCandle はIDでローソク足を返します。
func (t *TrackingUsecase) GetCandle(ctx context.Context, id uuid.UUID) (entity.Candle, error) {
	return t.candles.GetByID(ctx, id)
}

// Shutdown は全てのライブ追跡を停止します。
func (t *TrackingUsecase) Shutdown(ctx context.Context) error {
	return t.subs.Shutdown(ctx)
}

func validateSeries(symbol string, tf timeframe.TimeFrame) error {
	if strings.TrimSpace(symbol) == "" {
		return ErrInvalidSymbol
	}
	if !tf.Valid() {
		return ErrInvalidTimeFrame
	}
	return nil
}
