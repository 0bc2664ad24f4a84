// Package adapters はローソク足リポジトリのデータベース実装を提供します。
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
)

// insertBatchSize は1回の INSERT に含める行数です。PostgreSQL のパラメータ上限を超えないようにします。
const insertBatchSize = 500

type candleGorm struct {
	db *gorm.DB
}

var _ usecase.CandleRepository = (*candleGorm)(nil)

// NewCandleRepository は gorm を使った CandleRepository を生成します。
func NewCandleRepository(db *gorm.DB) *candleGorm {
	return &candleGorm{db: db}
}

// CandleModel は candles テーブルの1行です。
// (symbol, time_frame, timestamp) の一意制約が先勝ちの書き込みを保証します。
type CandleModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Symbol    string    `gorm:"size:32;not null;uniqueIndex:idx_candles_key,priority:1"`
	TimeFrame string    `gorm:"size:8;not null;uniqueIndex:idx_candles_key,priority:2"`
	Timestamp time.Time `gorm:"not null;uniqueIndex:idx_candles_key,priority:3;index:idx_candles_timestamp"`

	Open   float64 `gorm:"not null"`
	High   float64 `gorm:"not null"`
	Low    float64 `gorm:"not null"`
	Close  float64 `gorm:"not null"`
	Volume float64 `gorm:"not null;default:0"`
}

func (CandleModel) TableName() string {
	return "candles"
}

func toModel(e entity.Candle) CandleModel {
	id := e.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return CandleModel{
		ID:        id,
		Symbol:    e.Symbol,
		TimeFrame: e.TimeFrame.String(),
		Timestamp: e.Timestamp.UTC(),
		Open:      e.Open,
		High:      e.High,
		Low:       e.Low,
		Close:     e.Close,
		Volume:    e.Volume,
	}
}

func toEntity(m CandleModel) (entity.Candle, error) {
	tf, err := timeframe.Parse(m.TimeFrame)
	if err != nil {
		return entity.Candle{}, fmt.Errorf("candle %s: %w", m.ID, err)
	}
	return entity.Candle{
		ID:        m.ID,
		Symbol:    m.Symbol,
		TimeFrame: tf,
		Timestamp: m.Timestamp.UTC(),
		Open:      m.Open,
		High:      m.High,
		Low:       m.Low,
		Close:     m.Close,
		Volume:    m.Volume,
	}, nil
}

// QueryRange は [from, to] のローソク足をタイムスタンプ昇順で返します。
func (r *candleGorm) QueryRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	var rows []CandleModel
	err := r.series(ctx, symbol, tf).
		Where(clause.Gte{Column: "timestamp", Value: from.UTC()}).
		Where(clause.Lte{Column: "timestamp", Value: to.UTC()}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]entity.Candle, 0, len(rows))
	for _, m := range rows {
		c, err := toEntity(m)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GetLatest は最新のローソク足を返します。
func (r *candleGorm) GetLatest(ctx context.Context, symbol string, tf timeframe.TimeFrame) (entity.Candle, error) {
	var m CandleModel
	err := r.series(ctx, symbol, tf).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity.Candle{}, usecase.ErrCandleNotFound
	}
	if err != nil {
		return entity.Candle{}, err
	}
	return toEntity(m)
}

// GetByID はIDでローソク足を返します。
func (r *candleGorm) GetByID(ctx context.Context, id uuid.UUID) (entity.Candle, error) {
	var m CandleModel
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity.Candle{}, usecase.ErrCandleNotFound
	}
	if err != nil {
		return entity.Candle{}, err
	}
	return toEntity(m)
}

// NewWriter は新しい書き込み単位を返します。
func (r *candleGorm) NewWriter() usecase.CandleWriter {
	return &candleWriter{db: r.db}
}

func (r *candleGorm) series(ctx context.Context, symbol string, tf timeframe.TimeFrame) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&CandleModel{}).
		Where("symbol = ? AND time_frame = ?", symbol, tf.String())
}

type candleWriter struct {
	db      *gorm.DB
	pending []entity.Candle
}

func (w *candleWriter) AddOne(c entity.Candle) {
	w.pending = append(w.pending, c)
}

func (w *candleWriter) AddMany(cs []entity.Candle) {
	w.pending = append(w.pending, cs...)
}

// Commit はステージングされたローソク足を INSERT ... ON CONFLICT DO NOTHING で保存します。
// 既存キーと重複する行、バッチ内で重複する行はスキップされます。
func (w *candleWriter) Commit(ctx context.Context) (bool, error) {
	pending := w.pending
	w.pending = nil
	if len(pending) == 0 {
		return false, nil
	}

	ms := make([]CandleModel, 0, len(pending))
	for _, e := range pending {
		ms = append(ms, toModel(e))
	}

	res := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&ms, insertBatchSize)
	if res.Error != nil {
		return false, fmt.Errorf("insert candles: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
