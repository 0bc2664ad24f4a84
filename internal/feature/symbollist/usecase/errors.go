package usecase

import "errors"

var (
	// ErrInvalidSymbolCode は銘柄コードが空の場合に返されます。
	ErrInvalidSymbolCode = errors.New("symbol code is required")
	// ErrNoSymbols は取り込み対象の銘柄が1件もない場合に返されます。
	ErrNoSymbols = errors.New("no symbols to ingest")
)
