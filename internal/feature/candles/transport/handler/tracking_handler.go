package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/transport/http/dto"
	"candle_tracker/internal/feature/candles/usecase"
)

// TrackingUsecase はライブ追跡のユースケースインターフェースです。
type TrackingUsecase interface {
	StartTracking(symbol string, tf timeframe.TimeFrame) error
	StopTracking(symbol string, tf timeframe.TimeFrame)
	ActiveTracking() []usecase.SubscriptionKey
}

// TrackingHandler はライブ追跡の開始・停止・一覧を処理します。
type TrackingHandler struct {
	uc TrackingUsecase
}

// NewTrackingHandler はTrackingHandlerの新しいインスタンスを生成します。
func NewTrackingHandler(uc TrackingUsecase) *TrackingHandler {
	return &TrackingHandler{uc: uc}
}

// List は追跡中の (銘柄, 時間足) を返します。
func (h *TrackingHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, dto.NewSubscriptionResponses(h.uc.ActiveTracking()))
}

// Start は追跡を開始します。既に追跡中の場合も 202 を返します。
func (h *TrackingHandler) Start(c *gin.Context) {
	var req dto.TrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	tf, err := timeframe.Parse(req.TimeFrame)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	if err := h.uc.StartTracking(req.Symbol, tf); err != nil {
		writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusAccepted, dto.SubscriptionResponse{Symbol: req.Symbol, TimeFrame: tf.String()})
}

// Stop は追跡を停止します。追跡していない場合も 204 を返します。
func (h *TrackingHandler) Stop(c *gin.Context) {
	tf, err := timeframe.Parse(c.Param("timeframe"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	h.uc.StopTracking(c.Param("symbol"), tf)
	c.Status(http.StatusNoContent)
}
