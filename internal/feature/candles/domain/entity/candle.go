// Package entity defines the domain models for the candles feature.
package entity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// ErrInvalidCandle is wrapped by every validation failure in NewCandle.
var ErrInvalidCandle = errors.New("invalid candle")

// Candle represents one OHLCV (Open, High, Low, Close, Volume) aggregate
// for a symbol over a single timeframe bucket.
// Build it with NewCandle; values are not modified after construction.
type Candle struct {
	ID        uuid.UUID           `json:"id"`        // Surrogate storage id
	Symbol    string              `json:"symbol"`    // Instrument identifier (e.g., "BTC-USDT", "AAPL")
	TimeFrame timeframe.TimeFrame `json:"timeframe"` // Bucket length
	Timestamp time.Time           `json:"timestamp"` // Bucket start, UTC
	Open      float64             `json:"open"`
	High      float64             `json:"high"`
	Low       float64             `json:"low"`
	Close     float64             `json:"close"`
	Volume    float64             `json:"volume"`
}

// Key is the logical identity of a candle. At most one candle per Key is stored.
type Key struct {
	Symbol    string
	TimeFrame timeframe.TimeFrame
	Timestamp time.Time
}

// NewCandle validates its arguments and returns a candle with a fresh id.
// It fails when symbol is blank, high < low, any value is negative or not finite,
// or tf is not a known timeframe. timestamp is stored in UTC as given.
func NewCandle(symbol string, timestamp time.Time, open, high, low, close, volume float64, tf timeframe.TimeFrame) (Candle, error) {
	if strings.TrimSpace(symbol) == "" {
		return Candle{}, fmt.Errorf("%w: symbol cannot be empty", ErrInvalidCandle)
	}
	if !tf.Valid() {
		return Candle{}, fmt.Errorf("%w: %v", ErrInvalidCandle, tf)
	}
	for name, v := range map[string]float64{"open": open, "high": high, "low": low, "close": close, "volume": volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Candle{}, fmt.Errorf("%w: %s is not a finite number", ErrInvalidCandle, name)
		}
		if v < 0 {
			return Candle{}, fmt.Errorf("%w: %s cannot be negative (%v)", ErrInvalidCandle, name, v)
		}
	}
	if high < low {
		return Candle{}, fmt.Errorf("%w: high %v is less than low %v", ErrInvalidCandle, high, low)
	}

	return Candle{
		ID:        uuid.New(),
		Symbol:    symbol,
		TimeFrame: tf,
		Timestamp: timestamp.UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}, nil
}

// Key returns the candle's logical identity.
func (c Candle) Key() Key {
	return Key{Symbol: c.Symbol, TimeFrame: c.TimeFrame, Timestamp: c.Timestamp.UTC()}
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Symbol, k.TimeFrame, k.Timestamp.Unix())
}
