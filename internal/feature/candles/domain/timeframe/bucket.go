package timeframe

import "time"

// BucketStart floors t to the start of its enclosing tf interval, in UTC.
// Weeks start on Monday 00:00 UTC and months on day 1 00:00 UTC.
// Invalid timeframes return t in UTC unchanged.
func BucketStart(t time.Time, tf TimeFrame) time.Time {
	t = t.UTC()
	if !tf.Valid() {
		return t
	}
	return frames[tf].bucket(t)
}

// IntervalDuration returns the fixed length of one tf bucket.
// Month is a 30-day approximation and disagrees with calendar bucketing.
func IntervalDuration(tf TimeFrame) time.Duration {
	if !tf.Valid() {
		return 0
	}
	return frames[tf].interval
}

// ExpectedCount is the number of whole intervals between from and to, truncated toward zero.
// It ignores trading hours and holidays and is only a completeness heuristic.
func ExpectedCount(tf TimeFrame, from, to time.Time) int {
	d := IntervalDuration(tf)
	if d <= 0 {
		return 0
	}
	return int(to.Sub(from) / d)
}

// DefaultUpdateInterval is how often a live subscription for tf polls its feed.
// Coarser timeframes poll less often.
func DefaultUpdateInterval(tf TimeFrame) time.Duration {
	if !tf.Valid() {
		return 30 * time.Minute
	}
	return frames[tf].update
}

// Next returns the start of the bucket following the one containing t.
// Months advance by calendar month, everything else by IntervalDuration.
func Next(t time.Time, tf TimeFrame) time.Time {
	start := BucketStart(t, tf)
	if tf == Month {
		return start.AddDate(0, 1, 0)
	}
	return start.Add(IntervalDuration(tf))
}

func floorMinutes(n int) func(time.Time) time.Time {
	return func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()/n*n, 0, 0, time.UTC)
	}
}

func floorHours(n int) func(time.Time) time.Time {
	return func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour()/n*n, 0, 0, 0, time.UTC)
	}
}

func floorDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func floorWeek(t time.Time) time.Time {
	d := floorDay(t)
	// Sunday is 0; shift so Monday is 0.
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func floorMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
