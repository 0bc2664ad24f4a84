// Package dto defines data transfer objects for the symbollist HTTP API.
package dto

// SymbolItem represents a symbol in the API response.
// It contains only the public-facing fields needed by clients.
type SymbolItem struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
}

// RegisterSymbolRequest は POST /symbols のリクエストボディの1要素です。
type RegisterSymbolRequest struct {
	Code     string `json:"code" binding:"required"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	SortKey  int    `json:"sort_key"`
	// 省略時は有効
	Active *bool `json:"active"`
}
