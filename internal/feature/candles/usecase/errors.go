package usecase

import "errors"

var (
	// ErrInvalidSymbol は銘柄コードが空の場合に返されます。
	ErrInvalidSymbol = errors.New("symbol is required")
	// ErrInvalidTimeFrame は時間足が列挙外の場合に返されます。
	ErrInvalidTimeFrame = errors.New("invalid timeframe")
	// ErrInvalidRange は from が to より後の場合や、期間の本数が上限を超える場合に返されます。
	ErrInvalidRange = errors.New("invalid range")
	// ErrInvalidSubscription は購読キーが不正な場合に返されます。
	ErrInvalidSubscription = errors.New("invalid subscription")
	// ErrCandleNotFound はローソク足が見つからない場合に返されます。
	ErrCandleNotFound = errors.New("candle not found")
)
