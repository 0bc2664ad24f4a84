// Package simulated provides a deterministic random-walk market feed for
// local development and demos. No network access is involved.
package simulated

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"candle_tracker/internal/feature/candles/domain/entity"
	"candle_tracker/internal/feature/candles/domain/timeframe"
	"candle_tracker/internal/feature/candles/usecase"
)

// Config holds the generator parameters.
type Config struct {
	Seed       int64
	StartPrice float64
	// Volatility is the maximum relative move of one candle, e.g. 0.01 for 1%.
	Volatility float64
}

// Market generates candles aligned to bucket starts.
// The same Config and arguments always produce the same candles.
type Market struct {
	cfg Config
}

var _ usecase.MarketRepository = (*Market)(nil)

// NewMarket creates a simulated market.
func NewMarket(cfg Config) *Market {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Volatility < 0 || cfg.Volatility >= 1 {
		cfg.Volatility = 0.01
	}
	return &Market{cfg: cfg}
}

// FetchRange walks from StartPrice over every bucket start in [from, to].
func (m *Market) FetchRange(ctx context.Context, symbol string, tf timeframe.TimeFrame, from, to time.Time) ([]entity.Candle, error) {
	if !tf.Valid() {
		return nil, timeframe.ErrUnknownTimeFrame
	}

	ts := timeframe.BucketStart(from, tf)
	if ts.Before(from) {
		ts = timeframe.Next(ts, tf)
	}

	rng := m.rng(symbol, tf, ts)
	price := m.cfg.StartPrice
	var out []entity.Candle
	for ; !ts.After(to); ts = timeframe.Next(ts, tf) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := m.candle(rng, symbol, tf, ts, price)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
		price = c.Close
	}
	return out, nil
}

// Snapshot returns a candle for bucket. Repeated calls for the same bucket agree.
func (m *Market) Snapshot(ctx context.Context, symbol string, tf timeframe.TimeFrame, bucket time.Time) (entity.Candle, error) {
	if err := ctx.Err(); err != nil {
		return entity.Candle{}, err
	}
	if !tf.Valid() {
		return entity.Candle{}, timeframe.ErrUnknownTimeFrame
	}
	bucket = timeframe.BucketStart(bucket, tf)
	return m.candle(m.rng(symbol, tf, bucket), symbol, tf, bucket, m.cfg.StartPrice)
}

func (m *Market) rng(symbol string, tf timeframe.TimeFrame, ts time.Time) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol))
	_, _ = h.Write([]byte{0, byte(tf)})
	return rand.New(rand.NewPCG(uint64(m.cfg.Seed), h.Sum64()^uint64(ts.Unix())))
}

func (m *Market) candle(rng *rand.Rand, symbol string, tf timeframe.TimeFrame, ts time.Time, open float64) (entity.Candle, error) {
	v := m.cfg.Volatility
	closeP := open * (1 + v*(2*rng.Float64()-1))
	high := math.Max(open, closeP) * (1 + v*rng.Float64()/2)
	low := math.Min(open, closeP) * (1 - v*rng.Float64()/2)
	volume := 100 + rng.Float64()*1000
	return entity.NewCandle(symbol, ts, round(open), round(high), round(low), round(closeP), round(volume), tf)
}

func round(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
