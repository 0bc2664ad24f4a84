// Package adapters はsymbollistフィーチャーのリポジトリ実装を提供します。
package adapters

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"candle_tracker/internal/feature/symbollist/domain/entity"
	"candle_tracker/internal/feature/symbollist/usecase"
)

// SymbolModel は symbols テーブルの1行です。
type SymbolModel struct {
	ID        uint      `gorm:"primaryKey"`
	Code      string    `gorm:"size:32;not null;uniqueIndex"`
	Name      string    `gorm:"size:255;not null;default:''"`
	Exchange  string    `gorm:"size:64;not null;default:''"`
	IsActive  bool      `gorm:"not null"`
	SortKey   int       `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (SymbolModel) TableName() string {
	return "symbols"
}

// symbolGorm はSymbolRepositoryインターフェースのgorm実装です。
type symbolGorm struct {
	db *gorm.DB
}

var _ usecase.SymbolRepository = (*symbolGorm)(nil)

// NewSymbolRepository は指定されたDB接続でsymbolGormリポジトリの新しいインスタンスを生成します。
func NewSymbolRepository(db *gorm.DB) *symbolGorm {
	return &symbolGorm{db: db}
}

// ListActive はsort_key順にすべてのアクティブな銘柄を返します。
func (r *symbolGorm) ListActive(ctx context.Context) ([]entity.Symbol, error) {
	var rows []SymbolModel
	if err := r.active(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]entity.Symbol, 0, len(rows))
	for _, m := range rows {
		out = append(out, entity.Symbol{
			Code: m.Code, Name: m.Name, Exchange: m.Exchange,
			IsActive: m.IsActive, SortKey: m.SortKey, UpdatedAt: m.UpdatedAt,
		})
	}
	return out, nil
}

// ListActiveCodes はsort_key順にアクティブな銘柄のコードのみを返します。
func (r *symbolGorm) ListActiveCodes(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.active(ctx).Pluck("code", &codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// Upsert は code が一致する行を更新し、なければ追加します。
func (r *symbolGorm) Upsert(ctx context.Context, symbols []entity.Symbol) error {
	rows := make([]SymbolModel, 0, len(symbols))
	for _, s := range symbols {
		rows = append(rows, SymbolModel{
			Code: s.Code, Name: s.Name, Exchange: s.Exchange,
			IsActive: s.IsActive, SortKey: s.SortKey,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "exchange", "is_active", "sort_key", "updated_at"}),
	}).Create(&rows).Error
}

func (r *symbolGorm) active(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&SymbolModel{}).
		Where("is_active = ?", true).
		Order("sort_key ASC").
		Order("code ASC")
}
