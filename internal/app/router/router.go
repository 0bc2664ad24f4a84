// Package router はHTTPルーティングを構築します。
package router

import (
	"github.com/gin-gonic/gin"

	candleshandler "candle_tracker/internal/feature/candles/transport/handler"
	symbolhandler "candle_tracker/internal/feature/symbollist/transport/handler"
	healthhandler "candle_tracker/internal/platform/http/handler"
	"candle_tracker/internal/platform/metrics"
)

// NewRouter はルートを登録したginエンジンを返します。
// rec が nil の場合はメトリクスの計測とエンドポイントを無効にします。
func NewRouter(candles *candleshandler.CandlesHandler, tracking *candleshandler.TrackingHandler,
	symbols *symbolhandler.SymbolHandler, checks map[string]healthhandler.Check, rec *metrics.Recorder, metricsPath string) *gin.Engine {
	r := gin.Default()
	// BTC/USD のようにスラッシュを含む銘柄コードをパスパラメータで受け取る
	r.UseRawPath = true
	r.UnescapePathValues = true

	if rec != nil {
		r.Use(rec.Middleware())
		r.GET(metricsPath, gin.WrapH(rec.Handler()))
	}

	// 導通確認用
	health := healthhandler.Health(checks)
	r.GET("/healthz", health)
	r.HEAD("/healthz", health)
	r.OPTIONS("/healthz", health)

	// ローソク足
	r.GET("/candles/:symbol", candles.GetCandles)
	r.GET("/candles/:symbol/latest", candles.GetLatest)
	r.GET("/candle/:id", candles.GetByID)
	r.POST("/candles", candles.Ingest)

	// 銘柄
	r.GET("/symbols", symbols.List)
	r.POST("/symbols", symbols.Register)

	// ライブ追跡
	r.GET("/tracking", tracking.List)
	r.POST("/tracking", tracking.Start)
	r.DELETE("/tracking/:symbol/:timeframe", tracking.Stop)

	return r
}
