// Package handler はcandlesフィーチャーのHTTPハンドラーを提供します。
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/transport/http/dto"
	"candle_tracker/internal/feature/candles/usecase"
)

const (
	// defaultTimeFrame はクエリで時間足が指定されない場合の値です。
	defaultTimeFrame = "1d"
	// defaultBars は from が省略された場合に to から遡る本数です。
	defaultBars = 100
)

// CandlesUsecase はローソク足データ操作のユースケースインターフェースを定義します。
// Goの慣例に従い、インターフェースは利用者（handler）側で定義します。
type CandlesUsecase interface {
	GetHistoricalCandles(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error)
	GetLatestCandle(ctx context.Context, symbol string, tf timeframe.TimeFrame) (entity.Candle, error)
	GetCandle(ctx context.Context, id uuid.UUID) (entity.Candle, error)
	IngestNewCandle(ctx context.Context, c entity.Candle) (bool, error)
}

// CandlesHandler はローソク足データのHTTPリクエストを処理します。
type CandlesHandler struct {
	uc  CandlesUsecase
	now func() time.Time
}

// NewCandlesHandler は指定されたusecaseでCandlesHandlerの新しいインスタンスを生成します。
func NewCandlesHandler(uc CandlesUsecase) *CandlesHandler {
	return &CandlesHandler{uc: uc, now: time.Now}
}

// GetCandles は銘柄コードと期間を受け取り、ローソク足データをJSONで返します。
// 保存済みデータが不足していればフィードから補完されます。
//
// エンドポイント例:
// GET /candles/:symbol?timeframe=1m&from=2024-01-01T09:00:00Z&to=2024-01-01T09:03:00Z
//
// from/to は RFC3339 または Unix 秒で指定します。to の既定値は現在時刻、
// from の既定値は to から 100 本分遡った時刻です。
func (h *CandlesHandler) GetCandles(c *gin.Context) {
	symbol := c.Param("symbol")
	tf, err := timeframe.Parse(c.DefaultQuery("timeframe", defaultTimeFrame))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	to := h.now().UTC()
	if s := c.Query("to"); s != "" {
		if to, err = parseTime(s); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: fmt.Sprintf("invalid to: %v", err)})
			return
		}
	}
	from := to.Add(-defaultBars * timeframe.IntervalDuration(tf))
	if s := c.Query("from"); s != "" {
		if from, err = parseTime(s); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: fmt.Sprintf("invalid from: %v", err)})
			return
		}
	}

	candles, err := h.uc.GetHistoricalCandles(c.Request.Context(), symbol, tf, from, to)
	if err != nil {
		writeError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, dto.NewCandleResponses(candles))
}

// GetLatest は保存済みの最新のローソク足を返します。
//
// エンドポイント例:
// GET /candles/:symbol/latest?timeframe=1h
func (h *CandlesHandler) GetLatest(c *gin.Context) {
	tf, err := timeframe.Parse(c.DefaultQuery("timeframe", defaultTimeFrame))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	candle, err := h.uc.GetLatestCandle(c.Request.Context(), c.Param("symbol"), tf)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, dto.NewCandleResponse(candle))
}

// GetByID はIDでローソク足を返します。
//
// エンドポイント例:
// GET /candle/:id
func (h *CandlesHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid id"})
		return
	}

	candle, err := h.uc.GetCandle(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, dto.NewCandleResponse(candle))
}

// Ingest はローソク足を1本取り込みます。タイムスタンプはバケットの先頭に揃えられます。
// - バリデーションエラー時は400を返却
// - 新規に保存された場合は201、同じ論理キーが既にある場合は200を返却
func (h *CandlesHandler) Ingest(c *gin.Context) {
	var req dto.IngestCandleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	tf, err := timeframe.Parse(req.TimeFrame)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	candle, err := entity.NewCandle(req.Symbol, timeframe.BucketStart(req.Timestamp, tf),
		req.Open, req.High, req.Low, req.Close, req.Volume, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	inserted, err := h.uc.IngestNewCandle(c.Request.Context(), candle)
	if err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	c.JSON(status, dto.IngestCandleResponse{Inserted: inserted, Candle: dto.NewCandleResponse(candle)})
}

// writeError はユースケースのエラーをステータスコードに対応付けます。
// 対応しないエラーは fallback で返し、詳細はログにのみ出力します。
func writeError(c *gin.Context, err error, fallback int) {
	switch {
	case errors.Is(err, usecase.ErrInvalidSymbol),
		errors.Is(err, usecase.ErrInvalidTimeFrame),
		errors.Is(err, usecase.ErrInvalidRange),
		errors.Is(err, usecase.ErrInvalidSubscription),
		errors.Is(err, entity.ErrInvalidCandle):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, usecase.ErrCandleNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, usecase.ErrSubscriptionsClosed):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, dto.ErrorResponse{Error: "request timed out"})
	default:
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(fallback, dto.ErrorResponse{Error: http.StatusText(fallback)})
	}
}

// parseTime は RFC3339 または Unix 秒を UTC の時刻に変換します。
func parseTime(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
