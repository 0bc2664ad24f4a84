package cache

import (
	"time"

	"candle_tracker/internal/feature/candles/domain/timeframe"
)

// TimeUntilNextBucket は now を含む tf バケットが閉じるまでの期間を返します。
// 無効な時間足の場合は 0 を返します。
func TimeUntilNextBucket(now time.Time, tf timeframe.TimeFrame) time.Duration {
	if !tf.Valid() {
		return 0
	}
	return timeframe.Next(now, tf).Sub(now)
}
