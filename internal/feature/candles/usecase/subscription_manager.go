package usecase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// ErrSubscriptionsClosed は Shutdown 後に Start が呼ばれた場合に返されます。
var ErrSubscriptionsClosed = errors.New("subscription manager is shut down")

var errStreamClosed = errors.New("candle stream closed")

// SubscriptionKey は購読を一意に識別します。
type SubscriptionKey struct {
	Symbol    string              `json:"symbol"`
	TimeFrame timeframe.TimeFrame `json:"timeframe"`
}

func (k SubscriptionKey) String() string {
	return k.Symbol + "/" + k.TimeFrame.String()
}

// IngestFunc は購読タスクが受け取ったローソク足を保存する関数です。
type IngestFunc func(ctx context.Context, c entity.Candle) (bool, error)

// FailureHandler は購読タスクがキャンセル以外の理由で終了したときに呼ばれます。
type FailureHandler func(key SubscriptionKey, err error)

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SubscriptionManager は (銘柄, 時間足) ごとに1つのゴルーチンでライブ更新を管理します。
type SubscriptionManager struct {
	market    MarketRepository
	ingest    IngestFunc
	metrics   Metrics
	logger    *slog.Logger
	onFailure FailureHandler
	intervals map[timeframe.TimeFrame]time.Duration
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[SubscriptionKey]*subscription
	closed bool
}

// ManagerOption は SubscriptionManager の設定を変更します。
type ManagerOption func(*SubscriptionManager)

// WithUpdateInterval は時間足ごとのポーリング間隔を上書きします。0 以下の値は無視されます。
func WithUpdateInterval(tf timeframe.TimeFrame, d time.Duration) ManagerOption {
	return func(m *SubscriptionManager) {
		if d > 0 {
			m.intervals[tf] = d
		}
	}
}

// WithFailureHandler は購読タスクの異常終了を通知する関数を設定します。
func WithFailureHandler(fn FailureHandler) ManagerOption {
	return func(m *SubscriptionManager) { m.onFailure = fn }
}

// WithManagerLogger はロガーを設定します。
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *SubscriptionManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithManagerMetrics は計測先を設定します。
func WithManagerMetrics(mt Metrics) ManagerOption {
	return func(m *SubscriptionManager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithClock はスナップショットのバケット計算に使う現在時刻関数を差し替えます。
func WithClock(now func() time.Time) ManagerOption {
	return func(m *SubscriptionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewSubscriptionManager は新しい SubscriptionManager を生成します。
// ingest は購読タスクごとに並行して呼ばれるため、ゴルーチンセーフである必要があります。
func NewSubscriptionManager(market MarketRepository, ingest IngestFunc, opts ...ManagerOption) *SubscriptionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &SubscriptionManager{
		market:    market,
		ingest:    ingest,
		metrics:   nopMetrics{},
		logger:    slog.Default(),
		intervals: map[timeframe.TimeFrame]time.Duration{},
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		subs:      map[SubscriptionKey]*subscription{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start は購読を開始します。既に有効な購読がある場合は何もしません。
func (m *SubscriptionManager) Start(symbol string, tf timeframe.TimeFrame) error {
	if strings.TrimSpace(symbol) == "" || !tf.Valid() {
		return fmt.Errorf("%w: symbol=%q timeframe=%v", ErrInvalidSubscription, symbol, tf)
	}
	key := SubscriptionKey{Symbol: symbol, TimeFrame: tf}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrSubscriptionsClosed
	}
	if _, ok := m.subs[key]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(m.ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	m.subs[key] = sub
	m.metrics.SetActiveSubscriptions(len(m.subs))

	go m.run(ctx, key, sub)

	m.logger.Info("subscription started", "symbol", symbol, "timeframe", tf)
	return nil
}

// Stop は購読を停止し、タスクの終了を待ちます。
// Stop が戻った後にそのタスクがローソク足を保存することはありません。未登録のキーは無視されます。
func (m *SubscriptionManager) Stop(symbol string, tf timeframe.TimeFrame) {
	key := SubscriptionKey{Symbol: symbol, TimeFrame: tf}

	m.mu.Lock()
	sub, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
		m.metrics.SetActiveSubscriptions(len(m.subs))
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sub.cancel()
	<-sub.done
	m.logger.Info("subscription stopped", "symbol", symbol, "timeframe", tf)
}

// Active は有効な購読を銘柄、時間足の順にソートして返します。
func (m *SubscriptionManager) Active() []SubscriptionKey {
	m.mu.Lock()
	out := make([]SubscriptionKey, 0, len(m.subs))
	for k := range m.subs {
		out = append(out, k)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b SubscriptionKey) int {
		if c := cmp.Compare(a.Symbol, b.Symbol); c != 0 {
			return c
		}
		return cmp.Compare(a.TimeFrame, b.TimeFrame)
	})
	return out
}

// Shutdown は全ての購読をキャンセルし、ctx が終わるまでタスクの終了を待ちます。
// 以降の Start は ErrSubscriptionsClosed を返します。
func (m *SubscriptionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	pending := make([]*subscription, 0, len(m.subs))
	for k, sub := range m.subs {
		pending = append(pending, sub)
		delete(m.subs, k)
	}
	m.metrics.SetActiveSubscriptions(0)
	m.mu.Unlock()

	m.cancel()
	for _, sub := range pending {
		select {
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *SubscriptionManager) run(ctx context.Context, key SubscriptionKey, sub *subscription) {
	defer close(sub.done)

	var err error
	if s, ok := m.market.(CandleStreamer); ok {
		err = m.consume(ctx, key, s)
	} else {
		err = m.poll(ctx, key)
	}

	m.release(key, sub)
	sub.cancel()

	if err == nil || ctx.Err() != nil {
		return
	}
	m.logger.Error("subscription failed", "symbol", key.Symbol, "timeframe", key.TimeFrame, "error", err)
	m.metrics.IncSubscriptionFailure(key.Symbol, key.TimeFrame)
	if m.onFailure != nil {
		m.onFailure(key, err)
	}
}

// release は登録がまだこのタスクのものであれば削除します。
func (m *SubscriptionManager) release(key SubscriptionKey, sub *subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.subs[key]; ok && cur == sub {
		delete(m.subs, key)
		m.metrics.SetActiveSubscriptions(len(m.subs))
	}
}

func (m *SubscriptionManager) updateInterval(tf timeframe.TimeFrame) time.Duration {
	if d, ok := m.intervals[tf]; ok {
		return d
	}
	return timeframe.DefaultUpdateInterval(tf)
}

// poll は更新間隔ごとに形成中のローソク足を取得して保存します。
// 保存は先勝ちのため、ポーリング型のフィードでは各バケットで最初に取得した形成中の値が残り、
// 確定後の値で上書きされることはありません。以降の EnsureRange もそのバケットを保存済みとして扱います。
func (m *SubscriptionManager) poll(ctx context.Context, key SubscriptionKey) error {
	interval := m.updateInterval(key.TimeFrame)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		bucket := timeframe.BucketStart(m.now(), key.TimeFrame)
		c, err := m.market.Snapshot(ctx, key.Symbol, key.TimeFrame, bucket)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", key, err)
		}
		if _, err := m.ingest(ctx, c); err != nil {
			return fmt.Errorf("ingest %s: %w", key, err)
		}

		timer.Reset(interval)
	}
}

// consume はフィードのストリームからローソク足を受け取って保存します。
func (m *SubscriptionManager) consume(ctx context.Context, key SubscriptionKey, s CandleStreamer) error {
	candles, errs := s.StreamCandles(ctx, key.Symbol, key.TimeFrame)
	for candles != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-candles:
			if !ok {
				candles = nil
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := m.ingest(ctx, c); err != nil {
				return fmt.Errorf("ingest %s: %w", key, err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("stream %s: %w", key, err)
			}
		}
	}
	return errStreamClosed
}
