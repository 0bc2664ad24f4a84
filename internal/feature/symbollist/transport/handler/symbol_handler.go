package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"candle_tracker/internal/feature/symbollist/domain/entity"
	"candle_tracker/internal/feature/symbollist/transport/http/dto"
	"candle_tracker/internal/feature/symbollist/usecase"
)

// SymbolUsecase は銘柄情報に関するユースケースのインターフェースです。
// Following Go convention: interfaces are defined by the consumer (handler), not the provider (usecase).
type SymbolUsecase interface {
	ListActiveSymbols(ctx context.Context) ([]entity.Symbol, error)
	RegisterSymbols(ctx context.Context, symbols []entity.Symbol) error
}

// SymbolHandler は銘柄情報に関するHTTPリクエストを処理します。
type SymbolHandler struct {
	uc SymbolUsecase
}

// NewSymbolHandler は新しい SymbolHandler を作成します。
func NewSymbolHandler(uc SymbolUsecase) *SymbolHandler {
	return &SymbolHandler{uc: uc}
}

// List は有効な銘柄の一覧を取得するAPIです。
// Usecaseでエラーが発生した場合は500 Internal Server Errorを返します。
func (h *SymbolHandler) List(c *gin.Context) {
	symbols, err := h.uc.ListActiveSymbols(c.Request.Context())
	if err != nil {
		slog.Error("failed to list symbols", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}
	out := make([]dto.SymbolItem, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, dto.SymbolItem{Code: s.Code, Name: s.Name, Exchange: s.Exchange})
	}
	c.JSON(http.StatusOK, out)
}

// Register は銘柄を登録・更新します。成功時は204を返します。
func (h *SymbolHandler) Register(c *gin.Context) {
	var req []dto.RegisterSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	symbols := make([]entity.Symbol, 0, len(req))
	for _, r := range req {
		active := true
		if r.Active != nil {
			active = *r.Active
		}
		symbols = append(symbols, entity.Symbol{
			Code: r.Code, Name: r.Name, Exchange: r.Exchange, SortKey: r.SortKey, IsActive: active,
		})
	}

	if err := h.uc.RegisterSymbols(c.Request.Context(), symbols); err != nil {
		if errors.Is(err, usecase.ErrInvalidSymbolCode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("failed to register symbols", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": http.StatusText(http.StatusInternalServerError)})
		return
	}
	c.Status(http.StatusNoContent)
}
