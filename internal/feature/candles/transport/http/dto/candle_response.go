// Package dto defines data transfer objects for the candles feature's HTTP transport layer.
package dto

import (
	"time"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/usecase"
)

// CandleResponse はロウソク足データのレスポンスDTOです。
type CandleResponse struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	TimeFrame string  `json:"timeframe"`
	Timestamp string  `json:"timestamp"` // バケット開始時刻（RFC3339, UTC）
	Open      float64 `json:"open"`      // 始値
	High      float64 `json:"high"`      // 高値
	Low       float64 `json:"low"`       // 安値
	Close     float64 `json:"close"`     // 終値
	Volume    float64 `json:"volume"`    // 出来高
}

// NewCandleResponse はエンティティをレスポンスDTOに変換します。
func NewCandleResponse(c entity.Candle) CandleResponse {
	return CandleResponse{
		ID:        c.ID.String(),
		Symbol:    c.Symbol,
		TimeFrame: c.TimeFrame.String(),
		Timestamp: c.Timestamp.UTC().Format(time.RFC3339),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

// NewCandleResponses はスライスを変換します。空の場合も nil ではなく空配列を返します。
func NewCandleResponses(cs []entity.Candle) []CandleResponse {
	out := make([]CandleResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, NewCandleResponse(c))
	}
	return out
}

// IngestCandleRequest は POST /candles のリクエストボディです。
type IngestCandleRequest struct {
	Symbol    string    `json:"symbol" binding:"required"`
	TimeFrame string    `json:"timeframe" binding:"required"`
	Timestamp time.Time `json:"timestamp" binding:"required"`
	Open      float64   `json:"open" binding:"gte=0"`
	High      float64   `json:"high" binding:"gte=0"`
	Low       float64   `json:"low" binding:"gte=0"`
	Close     float64   `json:"close" binding:"gte=0"`
	Volume    float64   `json:"volume" binding:"gte=0"`
}

// IngestCandleResponse は取り込み結果です。重複の場合 Inserted は false になります。
type IngestCandleResponse struct {
	Inserted bool           `json:"inserted"`
	Candle   CandleResponse `json:"candle"`
}

// TrackingRequest は POST /tracking のリクエストボディです。
type TrackingRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	TimeFrame string `json:"timeframe" binding:"required"`
}

// SubscriptionResponse は追跡中の (銘柄, 時間足) です。
type SubscriptionResponse struct {
	Symbol    string `json:"symbol"`
	TimeFrame string `json:"timeframe"`
}

// NewSubscriptionResponses は購読キーを変換します。
func NewSubscriptionResponses(keys []usecase.SubscriptionKey) []SubscriptionResponse {
	out := make([]SubscriptionResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, SubscriptionResponse{Symbol: k.Symbol, TimeFrame: k.TimeFrame.String()})
	}
	return out
}

// ErrorResponse はエラーレスポンスです。
type ErrorResponse struct {
	Error string `json:"error"`
}
